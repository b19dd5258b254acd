package flo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testDeviceJSON = `{
	"id": "device-1",
	"macAddress": "606405c11e10",
	"nickname": "Kitchen Shutoff",
	"deviceModel": "flo_device_075_v2",
	"deviceType": "flo_device_v2",
	"fwVersion": "6.1.1",
	"serialNumber": "111111111111",
	"isConnected": true,
	"lastHeardFromTime": "2026-08-30T07:00:00.450Z",
	"connectivity": {"rssi": -47},
	"systemMode": {"lastKnown": "home", "target": "home"},
	"valve": {"lastKnown": "open", "target": "open"},
	"telemetry": {"current": {"gpm": 1.2, "psi": 54.2, "tempF": 68.0, "humidity": 43.0}},
	"notifications": {"pending": {"infoCount": 1, "warningCount": 0, "criticalCount": 0}}
}`

const testConsumptionJSON = `{"aggregations": {"sumTotalGallonsConsumed": 120.5}}`

// fakeFloAPI emulates the vendor cloud: token endpoint plus the handful of
// v2 resources the coordinator touches. Individual resources can be toggled
// to fail to exercise the debounce paths.
type fakeFloAPI struct {
	tokens tokenEndpoint

	mu               sync.Mutex
	userJSON         string
	deviceJSON       string
	consumptionJSON  string
	failPing         bool
	failDevice       bool
	failConsumption  bool
	pingCalls        int
	deviceCalls      int
	consumptionCalls int
	mutations        []string
}

func newFakeFloAPI(t *testing.T) (*fakeFloAPI, *httptest.Server) {
	t.Helper()
	api := &fakeFloAPI{
		deviceJSON:      testDeviceJSON,
		consumptionJSON: testConsumptionJSON,
	}
	server := httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(server.Close)
	return api, server
}

func (f *fakeFloAPI) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/oauth2/token" {
		f.tokens.handle(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/presence/me":
		f.pingCalls++
		if f.failPing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/devices/"):
		f.deviceCalls++
		if f.failDevice {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.deviceJSON))

	case r.Method == http.MethodGet && r.URL.Path == "/v2/water/consumption":
		f.consumptionCalls++
		if f.failConsumption {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.consumptionJSON))

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/users/"):
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.userJSON))

	case r.Method == http.MethodPost:
		f.mutations = append(f.mutations, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeFloAPI) set(mutate func(*fakeFloAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

func (f *fakeFloAPI) counts() (ping, device, consumption int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCalls, f.deviceCalls, f.consumptionCalls
}

func newTestCoordinator(t *testing.T) (*DeviceCoordinator, *fakeFloAPI) {
	t.Helper()
	api, server := newFakeFloAPI(t)
	client := NewClient(Config{Username: "u", Password: "p", BaseURL: server.URL}, nil, nil)
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return NewDeviceCoordinator(client, "location-1", "device-1", nil), api
}

func TestUpdateCycle(t *testing.T) {
	coord, api := newTestCoordinator(t)

	if err := coord.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ping, device, consumption := api.counts()
	if ping != 1 || device != 1 || consumption != 1 {
		t.Fatalf("unexpected call counts: ping=%d device=%d consumption=%d", ping, device, consumption)
	}

	if !coord.LastUpdateSuccess() {
		t.Fatal("expected successful update")
	}
	if !coord.Available() {
		t.Fatal("expected device available")
	}

	name, err := coord.DeviceName()
	if err != nil || name != "Kitchen Shutoff" {
		t.Fatalf("DeviceName = %q, %v", name, err)
	}
	if mode, err := coord.CurrentSystemMode(); err != nil || mode != "home" {
		t.Fatalf("CurrentSystemMode = %q, %v", mode, err)
	}
	if valve, err := coord.LastKnownValveState(); err != nil || valve != "open" {
		t.Fatalf("LastKnownValveState = %q, %v", valve, err)
	}
	if gpm, err := coord.CurrentFlowRate(); err != nil || gpm != 1.2 {
		t.Fatalf("CurrentFlowRate = %v, %v", gpm, err)
	}
	if psi, err := coord.CurrentPSI(); err != nil || psi != 54.2 {
		t.Fatalf("CurrentPSI = %v, %v", psi, err)
	}
	if rssi, err := coord.RSSI(); err != nil || rssi != -47 {
		t.Fatalf("RSSI = %v, %v", rssi, err)
	}
	if serial := coord.SerialNumber(); serial != "111111111111" {
		t.Fatalf("SerialNumber = %q", serial)
	}
	if fw, err := coord.FirmwareVersion(); err != nil || fw != "6.1.1" {
		t.Fatalf("FirmwareVersion = %q, %v", fw, err)
	}
	ts, err := coord.LastHeardFromTime()
	if err != nil || !ts.Equal(time.Date(2026, 8, 30, 7, 0, 0, 450000000, time.UTC)) {
		t.Fatalf("LastHeardFromTime = %v, %v", ts, err)
	}
	if info, err := coord.PendingInfoAlertsCount(); err != nil || info != 1 {
		t.Fatalf("PendingInfoAlertsCount = %d, %v", info, err)
	}
	hasAlerts, err := coord.HasAlerts()
	if err != nil || !hasAlerts {
		t.Fatalf("HasAlerts = %v, %v", hasAlerts, err)
	}

	total, ok := coord.ConsumptionToday()
	if !ok || total != 120.5 {
		t.Fatalf("ConsumptionToday = %v, %v", total, ok)
	}
}

func TestSoftFailureDebounce(t *testing.T) {
	coord, api := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	api.set(func(f *fakeFloAPI) { f.failDevice = true })

	// Three consecutive failures are absorbed without flapping.
	for i := 1; i <= maxSoftFailures; i++ {
		if err := coord.Update(ctx); err != nil {
			t.Fatalf("failure %d should be tolerated: %v", i, err)
		}
		if got := coord.FailureCount(); got != i {
			t.Fatalf("FailureCount = %d, want %d", got, i)
		}
		if !coord.Available() {
			t.Fatalf("device should remain available after %d failures", i)
		}
		// Cached state stays usable.
		if name, err := coord.DeviceName(); err != nil || name != "Kitchen Shutoff" {
			t.Fatalf("cached DeviceName = %q, %v", name, err)
		}
	}

	// The fourth failure surfaces.
	if err := coord.Update(ctx); err == nil {
		t.Fatal("fourth consecutive failure should be reported")
	}
	if coord.Available() {
		t.Fatal("device should be unavailable after reported failure")
	}

	// A successful cycle fully recovers.
	api.set(func(f *fakeFloAPI) { f.failDevice = false })
	if err := coord.Update(ctx); err != nil {
		t.Fatalf("recovery Update: %v", err)
	}
	if coord.FailureCount() != 0 || !coord.Available() {
		t.Fatalf("expected full recovery, failures=%d available=%v", coord.FailureCount(), coord.Available())
	}
}

func TestPresencePingFailureAbortsCycle(t *testing.T) {
	coord, api := newTestCoordinator(t)
	api.set(func(f *fakeFloAPI) { f.failPing = true })

	if err := coord.Update(context.Background()); err != nil {
		t.Fatalf("first failure should be tolerated: %v", err)
	}

	_, device, _ := api.counts()
	if device != 0 {
		t.Fatalf("device info should not be fetched after ping failure, got %d calls", device)
	}
	if coord.FailureCount() != 1 {
		t.Fatalf("FailureCount = %d, want 1", coord.FailureCount())
	}
}

func TestConsumptionFailureIsNotACycleFailure(t *testing.T) {
	coord, api := newTestCoordinator(t)
	api.set(func(f *fakeFloAPI) { f.failConsumption = true })

	if err := coord.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if coord.FailureCount() != 0 {
		t.Fatalf("FailureCount = %d, want 0", coord.FailureCount())
	}
	if !coord.Available() {
		t.Fatal("device should stay available")
	}
	if _, ok := coord.ConsumptionToday(); ok {
		t.Fatal("consumption should be reset to unknown")
	}
}

func TestConsumptionToday(t *testing.T) {
	coord, api := newTestCoordinator(t)
	ctx := context.Background()

	// No document fetched yet.
	if _, ok := coord.ConsumptionToday(); ok {
		t.Fatal("expected no consumption before first fetch")
	}

	if err := coord.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if total, ok := coord.ConsumptionToday(); !ok || total != 120.5 {
		t.Fatalf("ConsumptionToday = %v, %v", total, ok)
	}

	// Aggregations present but the sum absent reads as unknown.
	api.set(func(f *fakeFloAPI) { f.consumptionJSON = `{"aggregations": {}}` })
	if err := coord.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := coord.ConsumptionToday(); ok {
		t.Fatal("expected unknown consumption when the aggregation is missing")
	}
}

func TestDeviceNameFallsBackToModel(t *testing.T) {
	coord, api := newTestCoordinator(t)
	api.set(func(f *fakeFloAPI) {
		f.deviceJSON = `{"deviceModel": "flo_device_075_v2", "isConnected": true}`
	})

	if err := coord.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	name, err := coord.DeviceName()
	if err != nil {
		t.Fatalf("DeviceName: %v", err)
	}
	if name != "Flo by Moen flo_device_075_v2" {
		t.Fatalf("DeviceName = %q", name)
	}
}

func TestAvailableRequiresConnectivity(t *testing.T) {
	coord, api := newTestCoordinator(t)
	api.set(func(f *fakeFloAPI) {
		f.deviceJSON = `{"nickname": "Basement", "isConnected": false}`
	})

	if err := coord.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !coord.LastUpdateSuccess() {
		t.Fatal("update itself succeeded")
	}
	if coord.Available() {
		t.Fatal("disconnected device must not be available")
	}
}

func TestCoordinatorMutations(t *testing.T) {
	coord, api := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.CloseValve(ctx); err != nil {
		t.Fatalf("CloseValve: %v", err)
	}
	if err := coord.SetModeAway(ctx); err != nil {
		t.Fatalf("SetModeAway: %v", err)
	}
	if err := coord.RunHealthTest(ctx); err != nil {
		t.Fatalf("RunHealthTest: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	want := []string{
		"/v2/devices/device-1",
		"/v2/locations/location-1/systemMode",
		"/v2/devices/device-1/healthTest/run",
	}
	if len(api.mutations) != len(want) {
		t.Fatalf("unexpected mutations: %v", api.mutations)
	}
	for i, path := range want {
		if api.mutations[i] != path {
			t.Fatalf("mutation %d = %s, want %s", i, api.mutations[i], path)
		}
	}
}
