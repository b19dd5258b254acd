package flo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes cached coordinator state per device. Collection
// never touches the network; the poll cycle owns all fetching.
type MetricsCollector struct {
	coordinators func() []*DeviceCoordinator

	flowRate       *prometheus.GaugeVec
	pressure       *prometheus.GaugeVec
	temperature    *prometheus.GaugeVec
	humidity       *prometheus.GaugeVec
	consumption    *prometheus.GaugeVec
	rssi           *prometheus.GaugeVec
	battery        *prometheus.GaugeVec
	infoAlerts     *prometheus.GaugeVec
	warningAlerts  *prometheus.GaugeVec
	criticalAlerts *prometheus.GaugeVec
	available      *prometheus.GaugeVec
	valveOpen      *prometheus.GaugeVec
	waterDetected  *prometheus.GaugeVec
	lastHeard      *prometheus.GaugeVec
	updateFailures *prometheus.GaugeVec
}

func NewMetricsCollector(coordinators func() []*DeviceCoordinator) *MetricsCollector {
	labels := []string{"device_id", "location_id"}
	return &MetricsCollector{
		coordinators: coordinators,
		flowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_flow_rate_gpm",
			Help: "Current water flow rate in gallons per minute",
		}, labels),
		pressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_water_pressure_psi",
			Help: "Current water pressure in psi",
		}, labels),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_temperature_fahrenheit",
			Help: "Current water temperature in degrees Fahrenheit",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_humidity_percent",
			Help: "Current relative humidity",
		}, labels),
		consumption: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_consumption_today_gallons",
			Help: "Water consumed today in gallons",
		}, labels),
		rssi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_wifi_rssi_dbm",
			Help: "Device WiFi signal strength",
		}, labels),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_battery_percent",
			Help: "Battery level for battery-powered devices",
		}, labels),
		infoAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_pending_info_alerts",
			Help: "Pending info alerts",
		}, labels),
		warningAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_pending_warning_alerts",
			Help: "Pending warning alerts",
		}, labels),
		criticalAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_pending_critical_alerts",
			Help: "Pending critical alerts",
		}, labels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_device_available_bool",
			Help: "Device availability (1=polling and connected, 0=unavailable)",
		}, labels),
		valveOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_valve_open_bool",
			Help: "Last known valve state (1=open, 0=closed)",
		}, labels),
		waterDetected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_water_detected_bool",
			Help: "Water detected by a leak detector (1=wet, 0=dry)",
		}, labels),
		lastHeard: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_last_heard_timestamp_seconds",
			Help: "Last time the cloud heard from the device (epoch seconds)",
		}, labels),
		updateFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_flo_consecutive_update_failures",
			Help: "Consecutive soft update failures for the device",
		}, labels),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.flowRate, c.pressure, c.temperature, c.humidity, c.consumption,
		c.rssi, c.battery, c.infoAlerts, c.warningAlerts, c.criticalAlerts,
		c.available, c.valveOpen, c.waterDetected, c.lastHeard, c.updateFailures,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, vec := range c.vecs() {
		vec.Reset()
	}

	for _, coordinator := range c.coordinators() {
		labels := prometheus.Labels{
			"device_id":   coordinator.DeviceID(),
			"location_id": coordinator.LocationID(),
		}

		if value, err := coordinator.CurrentFlowRate(); err == nil {
			c.flowRate.With(labels).Set(value)
		}
		if value, err := coordinator.CurrentPSI(); err == nil {
			c.pressure.With(labels).Set(value)
		}
		if value, err := coordinator.Temperature(); err == nil {
			c.temperature.With(labels).Set(value)
		}
		if value, err := coordinator.Humidity(); err == nil {
			c.humidity.With(labels).Set(value)
		}
		if value, ok := coordinator.ConsumptionToday(); ok {
			c.consumption.With(labels).Set(value)
		}
		if value, err := coordinator.RSSI(); err == nil {
			c.rssi.With(labels).Set(value)
		}
		if value, err := coordinator.BatteryLevel(); err == nil {
			c.battery.With(labels).Set(value)
		}
		if value, err := coordinator.PendingInfoAlertsCount(); err == nil {
			c.infoAlerts.With(labels).Set(float64(value))
		}
		if value, err := coordinator.PendingWarningAlertsCount(); err == nil {
			c.warningAlerts.With(labels).Set(float64(value))
		}
		if value, err := coordinator.PendingCriticalAlertsCount(); err == nil {
			c.criticalAlerts.With(labels).Set(float64(value))
		}
		c.available.With(labels).Set(boolToFloat(coordinator.Available()))
		if state, err := coordinator.LastKnownValveState(); err == nil {
			c.valveOpen.With(labels).Set(boolToFloat(state == "open"))
		}
		if wet, err := coordinator.WaterDetected(); err == nil {
			c.waterDetected.With(labels).Set(boolToFloat(wet))
		}
		if ts, err := coordinator.LastHeardFromTime(); err == nil {
			c.lastHeard.With(labels).Set(float64(ts.Unix()))
		}
		c.updateFailures.With(labels).Set(float64(coordinator.FailureCount()))
	}

	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
