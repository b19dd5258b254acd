package flo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// Manufacturer is the brand reported for every device.
	Manufacturer = "Flo by Moen"

	// Up to this many consecutive cycle failures are absorbed silently so
	// a transient network blip does not flap device availability.
	maxSoftFailures = 3
)

// DeviceCoordinator owns the polling cycle and cached state for one physical
// device. Cached documents are retained across failed cycles; only the
// failure counter advances.
type DeviceCoordinator struct {
	client     *Client
	logger     *slog.Logger
	locationID string
	deviceID   string

	mu                sync.RWMutex
	deviceInfo        Document
	waterUsage        Document
	failureCount      int
	lastUpdateSuccess bool
	now               func() time.Time
}

func NewDeviceCoordinator(client *Client, locationID, deviceID string, logger *slog.Logger) *DeviceCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceCoordinator{
		client:     client,
		logger:     logger,
		locationID: locationID,
		deviceID:   deviceID,
		now:        time.Now,
	}
}

// Name identifies the coordinator to the poll scheduler.
func (d *DeviceCoordinator) Name() string { return "flo-" + d.deviceID }

// Update runs one polling cycle: presence ping, device info fetch, and
// today's consumption. An error is reported upward only after the failure
// counter exceeds the soft-failure budget.
func (d *DeviceCoordinator) Update(ctx context.Context) error {
	err := d.updateCycle(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.failureCount++
		if d.failureCount > maxSoftFailures {
			d.lastUpdateSuccess = false
			return err
		}
		d.logger.Debug("tolerating transient update failure",
			"device_id", d.deviceID, "failures", d.failureCount, "error", err)
		return nil
	}

	d.failureCount = 0
	d.lastUpdateSuccess = true
	return nil
}

func (d *DeviceCoordinator) updateCycle(ctx context.Context) error {
	if err := d.client.SendPresencePing(ctx); err != nil {
		return err
	}

	info, err := d.client.DeviceInfo(ctx, d.deviceID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.deviceInfo = info
	d.mu.Unlock()

	return d.updateConsumption(ctx)
}

// updateConsumption fetches today's usage for the device's location. A
// request failure here degrades to an empty consumption document instead of
// failing the cycle; stale consumption is not worth flapping availability.
func (d *DeviceCoordinator) updateConsumption(ctx context.Context) error {
	now := d.now()
	year, month, day := now.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	end := time.Date(year, month, day, 23, 59, 59, 999000000, now.Location())

	usage, err := d.client.ConsumptionInfo(ctx, d.locationID, start, end)
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			return err
		}
		d.logger.Warn("failed to update consumption data",
			"device_id", d.deviceID, "error", err)
		d.mu.Lock()
		d.waterUsage = Document{}
		d.mu.Unlock()
		return nil
	}

	d.mu.Lock()
	d.waterUsage = usage
	d.mu.Unlock()
	return nil
}

func (d *DeviceCoordinator) device() Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceInfo
}

func (d *DeviceCoordinator) usage() Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.waterUsage
}

// LocationID returns the Flo location id.
func (d *DeviceCoordinator) LocationID() string { return d.locationID }

// DeviceID returns the Flo device id.
func (d *DeviceCoordinator) DeviceID() string { return d.deviceID }

// Manufacturer returns the device brand.
func (d *DeviceCoordinator) Manufacturer() string { return Manufacturer }

// FailureCount returns the consecutive soft-failure count.
func (d *DeviceCoordinator) FailureCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failureCount
}

// LastUpdateSuccess reports whether the coordinator is currently healthy
// from the scheduler's point of view.
func (d *DeviceCoordinator) LastUpdateSuccess() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUpdateSuccess
}

// Available is true only while polling succeeds and the device reports
// cloud connectivity.
func (d *DeviceCoordinator) Available() bool {
	if !d.LastUpdateSuccess() {
		return false
	}
	connected, err := d.device().Bool("isConnected")
	return err == nil && connected
}

// DeviceName returns the nickname, falling back to "<manufacturer> <model>"
// when no nickname is set.
func (d *DeviceCoordinator) DeviceName() (string, error) {
	info := d.device()
	if info.Has("nickname") {
		return info.Str("nickname")
	}
	model, err := d.Model()
	if err != nil {
		return "", err
	}
	return Manufacturer + " " + model, nil
}

func (d *DeviceCoordinator) Model() (string, error) {
	return d.device().Str("deviceModel")
}

func (d *DeviceCoordinator) DeviceType() (string, error) {
	return d.device().Str("deviceType")
}

func (d *DeviceCoordinator) FirmwareVersion() (string, error) {
	return d.device().Str("fwVersion")
}

// SerialNumber returns the serial number, or empty when the vendor omits it.
func (d *DeviceCoordinator) SerialNumber() string {
	serial, err := d.device().Str("serialNumber")
	if err != nil {
		return ""
	}
	return serial
}

func (d *DeviceCoordinator) MACAddress() (string, error) {
	return d.device().Str("macAddress")
}

func (d *DeviceCoordinator) RSSI() (float64, error) {
	return d.device().Float("connectivity", "rssi")
}

func (d *DeviceCoordinator) LastHeardFromTime() (time.Time, error) {
	raw, err := d.device().Str("lastHeardFromTime")
	if err != nil {
		return time.Time{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (d *DeviceCoordinator) CurrentSystemMode() (string, error) {
	return d.device().Str("systemMode", "lastKnown")
}

func (d *DeviceCoordinator) TargetSystemMode() (string, error) {
	return d.device().Str("systemMode", "target")
}

func (d *DeviceCoordinator) LastKnownValveState() (string, error) {
	return d.device().Str("valve", "lastKnown")
}

func (d *DeviceCoordinator) TargetValveState() (string, error) {
	return d.device().Str("valve", "target")
}

// CurrentFlowRate returns the live flow rate in gallons per minute.
func (d *DeviceCoordinator) CurrentFlowRate() (float64, error) {
	return d.device().Float("telemetry", "current", "gpm")
}

// CurrentPSI returns the live water pressure in psi.
func (d *DeviceCoordinator) CurrentPSI() (float64, error) {
	return d.device().Float("telemetry", "current", "psi")
}

// Temperature returns the current temperature in degrees Fahrenheit.
func (d *DeviceCoordinator) Temperature() (float64, error) {
	return d.device().Float("telemetry", "current", "tempF")
}

// Humidity returns the current relative humidity in percent.
func (d *DeviceCoordinator) Humidity() (float64, error) {
	return d.device().Float("telemetry", "current", "humidity")
}

// BatteryLevel returns the battery percentage for battery-powered variants
// such as leak detectors.
func (d *DeviceCoordinator) BatteryLevel() (float64, error) {
	return d.device().Float("battery", "level")
}

// WaterDetected reports whether water is detected, for leak detectors.
func (d *DeviceCoordinator) WaterDetected() (bool, error) {
	return d.device().Bool("fwProperties", "telemetry_water")
}

func (d *DeviceCoordinator) PendingInfoAlertsCount() (int, error) {
	return d.device().Int("notifications", "pending", "infoCount")
}

func (d *DeviceCoordinator) PendingWarningAlertsCount() (int, error) {
	return d.device().Int("notifications", "pending", "warningCount")
}

func (d *DeviceCoordinator) PendingCriticalAlertsCount() (int, error) {
	return d.device().Int("notifications", "pending", "criticalCount")
}

// HasAlerts is true when any pending alert count is non-zero.
func (d *DeviceCoordinator) HasAlerts() (bool, error) {
	info, err := d.PendingInfoAlertsCount()
	if err != nil {
		return false, err
	}
	warning, err := d.PendingWarningAlertsCount()
	if err != nil {
		return false, err
	}
	critical, err := d.PendingCriticalAlertsCount()
	if err != nil {
		return false, err
	}
	return info > 0 || warning > 0 || critical > 0, nil
}

// ConsumptionToday returns today's total consumption in gallons. The second
// return is false when no consumption document has been fetched or the
// aggregation is absent, which is distinct from a measured zero.
func (d *DeviceCoordinator) ConsumptionToday() (float64, bool) {
	usage := d.usage()
	if len(usage) == 0 {
		return 0, false
	}
	total, err := usage.Float("aggregations", "sumTotalGallonsConsumed")
	if err != nil {
		return 0, false
	}
	return total, true
}

// SetModeHome sets the device's location to home mode.
func (d *DeviceCoordinator) SetModeHome(ctx context.Context) error {
	return d.client.SetLocationMode(ctx, d.locationID, "home")
}

// SetModeAway sets the device's location to away mode.
func (d *DeviceCoordinator) SetModeAway(ctx context.Context) error {
	return d.client.SetLocationMode(ctx, d.locationID, "away")
}

// SetModeSleep puts the location to sleep, reverting to revertMode after
// sleepMinutes.
func (d *DeviceCoordinator) SetModeSleep(ctx context.Context, sleepMinutes int, revertMode string) error {
	return d.client.SetLocationModeSleep(ctx, d.locationID, sleepMinutes, revertMode)
}

// RunHealthTest triggers a health test on the device.
func (d *DeviceCoordinator) RunHealthTest(ctx context.Context) error {
	return d.client.RunHealthTest(ctx, d.deviceID)
}

// OpenValve opens the shutoff valve.
func (d *DeviceCoordinator) OpenValve(ctx context.Context) error {
	return d.client.SetValveState(ctx, d.deviceID, "open")
}

// CloseValve closes the shutoff valve.
func (d *DeviceCoordinator) CloseValve(ctx context.Context) error {
	return d.client.SetValveState(ctx, d.deviceID, "closed")
}
