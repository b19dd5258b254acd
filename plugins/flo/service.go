package flo

import (
	"encoding/json"
	"net/http"
	"time"
)

// deviceSnapshot is the HTTP representation of a coordinator's cached state.
// Fields the device has not reported yet are omitted.
type deviceSnapshot struct {
	DeviceID          string   `json:"device_id"`
	LocationID        string   `json:"location_id"`
	Name              string   `json:"name,omitempty"`
	Manufacturer      string   `json:"manufacturer"`
	Model             string   `json:"model,omitempty"`
	DeviceType        string   `json:"device_type,omitempty"`
	FirmwareVersion   string   `json:"firmware_version,omitempty"`
	SerialNumber      string   `json:"serial_number,omitempty"`
	MACAddress        string   `json:"mac_address,omitempty"`
	Available         bool     `json:"available"`
	SystemMode        string   `json:"system_mode,omitempty"`
	TargetSystemMode  string   `json:"target_system_mode,omitempty"`
	ValveState        string   `json:"valve_state,omitempty"`
	TargetValveState  string   `json:"target_valve_state,omitempty"`
	FlowRateGPM       *float64 `json:"flow_rate_gpm,omitempty"`
	PressurePSI       *float64 `json:"pressure_psi,omitempty"`
	TemperatureF      *float64 `json:"temperature_f,omitempty"`
	HumidityPercent   *float64 `json:"humidity_percent,omitempty"`
	BatteryPercent    *float64 `json:"battery_percent,omitempty"`
	WaterDetected     *bool    `json:"water_detected,omitempty"`
	ConsumptionToday  *float64 `json:"consumption_today_gallons,omitempty"`
	PendingAlerts     *int     `json:"pending_alerts,omitempty"`
	LastHeardFromTime string   `json:"last_heard_from_time,omitempty"`
}

type systemModeRequest struct {
	Target        string `json:"target"`
	RevertMinutes int    `json:"revert_minutes"`
	RevertMode    string `json:"revert_mode"`
}

type valveRequest struct {
	Target string `json:"target"`
}

// RegisterHTTP exposes the plugin's control surface on the shared mux.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /flo/devices", p.handleListDevices)
	mux.HandleFunc("GET /flo/devices/{id}", p.handleGetDevice)
	mux.HandleFunc("POST /flo/devices/{id}/valve", p.handleSetValve)
	mux.HandleFunc("POST /flo/devices/{id}/healthTest", p.handleHealthTest)
	mux.HandleFunc("POST /flo/locations/{id}/systemMode", p.handleSystemMode)
}

func (p *Plugin) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	runtime := p.Runtime()
	if runtime == nil {
		http.Error(w, "flo plugin not ready", http.StatusServiceUnavailable)
		return
	}

	snapshots := make([]deviceSnapshot, 0, len(runtime.Coordinators))
	for _, coordinator := range runtime.Coordinators {
		snapshots = append(snapshots, snapshotOf(coordinator))
	}
	respondJSON(w, snapshots)
}

func (p *Plugin) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := p.coordinatorByDevice(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	respondJSON(w, snapshotOf(coordinator))
}

func (p *Plugin) handleSetValve(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := p.coordinatorByDevice(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	var req valveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Target {
	case "open":
		err = coordinator.OpenValve(r.Context())
	case "closed":
		err = coordinator.CloseValve(r.Context())
	default:
		http.Error(w, "valve target must be open or closed", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (p *Plugin) handleHealthTest(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := p.coordinatorByDevice(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := coordinator.RunHealthTest(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (p *Plugin) handleSystemMode(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := p.coordinatorByLocation(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	var req systemModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Target {
	case "home":
		err = coordinator.SetModeHome(r.Context())
	case "away":
		err = coordinator.SetModeAway(r.Context())
	case "sleep":
		if req.RevertMinutes <= 0 || req.RevertMode == "" {
			http.Error(w, "sleep requires revert_minutes and revert_mode", http.StatusBadRequest)
			return
		}
		err = coordinator.SetModeSleep(r.Context(), req.RevertMinutes, req.RevertMode)
	default:
		http.Error(w, "system mode must be home, away, or sleep", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (p *Plugin) coordinatorByDevice(deviceID string) (*DeviceCoordinator, bool) {
	runtime := p.Runtime()
	if runtime == nil {
		return nil, false
	}
	for _, coordinator := range runtime.Coordinators {
		if coordinator.DeviceID() == deviceID {
			return coordinator, true
		}
	}
	return nil, false
}

func (p *Plugin) coordinatorByLocation(locationID string) (*DeviceCoordinator, bool) {
	runtime := p.Runtime()
	if runtime == nil {
		return nil, false
	}
	for _, coordinator := range runtime.Coordinators {
		if coordinator.LocationID() == locationID {
			return coordinator, true
		}
	}
	return nil, false
}

func snapshotOf(coordinator *DeviceCoordinator) deviceSnapshot {
	snapshot := deviceSnapshot{
		DeviceID:     coordinator.DeviceID(),
		LocationID:   coordinator.LocationID(),
		Manufacturer: coordinator.Manufacturer(),
		SerialNumber: coordinator.SerialNumber(),
		Available:    coordinator.Available(),
	}

	if name, err := coordinator.DeviceName(); err == nil {
		snapshot.Name = name
	}
	if model, err := coordinator.Model(); err == nil {
		snapshot.Model = model
	}
	if deviceType, err := coordinator.DeviceType(); err == nil {
		snapshot.DeviceType = deviceType
	}
	if version, err := coordinator.FirmwareVersion(); err == nil {
		snapshot.FirmwareVersion = version
	}
	if mac, err := coordinator.MACAddress(); err == nil {
		snapshot.MACAddress = mac
	}
	if mode, err := coordinator.CurrentSystemMode(); err == nil {
		snapshot.SystemMode = mode
	}
	if mode, err := coordinator.TargetSystemMode(); err == nil {
		snapshot.TargetSystemMode = mode
	}
	if state, err := coordinator.LastKnownValveState(); err == nil {
		snapshot.ValveState = state
	}
	if state, err := coordinator.TargetValveState(); err == nil {
		snapshot.TargetValveState = state
	}
	if value, err := coordinator.CurrentFlowRate(); err == nil {
		snapshot.FlowRateGPM = &value
	}
	if value, err := coordinator.CurrentPSI(); err == nil {
		snapshot.PressurePSI = &value
	}
	if value, err := coordinator.Temperature(); err == nil {
		snapshot.TemperatureF = &value
	}
	if value, err := coordinator.Humidity(); err == nil {
		snapshot.HumidityPercent = &value
	}
	if value, err := coordinator.BatteryLevel(); err == nil {
		snapshot.BatteryPercent = &value
	}
	if wet, err := coordinator.WaterDetected(); err == nil {
		snapshot.WaterDetected = &wet
	}
	if value, ok := coordinator.ConsumptionToday(); ok {
		snapshot.ConsumptionToday = &value
	}
	if info, err := coordinator.PendingInfoAlertsCount(); err == nil {
		if warning, err := coordinator.PendingWarningAlertsCount(); err == nil {
			if critical, err := coordinator.PendingCriticalAlertsCount(); err == nil {
				total := info + warning + critical
				snapshot.PendingAlerts = &total
			}
		}
	}
	if ts, err := coordinator.LastHeardFromTime(); err == nil {
		snapshot.LastHeardFromTime = ts.UTC().Format(time.RFC3339)
	}

	return snapshot
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
