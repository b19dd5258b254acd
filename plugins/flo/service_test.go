package flo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestPlugin(t *testing.T) (*Plugin, *fakeFloAPI) {
	t.Helper()
	coord, api := newTestCoordinator(t)
	if err := coord.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	plugin := NewPlugin(Config{Username: "u", Password: "p"}, nil, nil)
	plugin.runtime = &Runtime{Client: coord.client, Coordinators: []*DeviceCoordinator{coord}}
	return plugin, api
}

func serveTestPlugin(t *testing.T, plugin *Plugin) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	plugin.RegisterHTTP(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestListDevices(t *testing.T) {
	plugin, _ := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Get(server.URL + "/flo/devices")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var snapshots []deviceSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected one device, got %d", len(snapshots))
	}

	got := snapshots[0]
	if got.DeviceID != "device-1" || got.LocationID != "location-1" {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.Name != "Kitchen Shutoff" || got.Manufacturer != "Flo by Moen" {
		t.Fatalf("unexpected naming: %+v", got)
	}
	if !got.Available || got.ValveState != "open" || got.SystemMode != "home" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.FlowRateGPM == nil || *got.FlowRateGPM != 1.2 {
		t.Fatalf("unexpected flow rate: %+v", got.FlowRateGPM)
	}
	if got.ConsumptionToday == nil || *got.ConsumptionToday != 120.5 {
		t.Fatalf("unexpected consumption: %+v", got.ConsumptionToday)
	}
	if got.PendingAlerts == nil || *got.PendingAlerts != 1 {
		t.Fatalf("unexpected alerts: %+v", got.PendingAlerts)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	plugin, _ := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Get(server.URL + "/flo/devices/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListDevicesBeforeSetup(t *testing.T) {
	plugin := NewPlugin(Config{Username: "u", Password: "p"}, nil, nil)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Get(server.URL + "/flo/devices")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSetValve(t *testing.T) {
	plugin, api := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Post(server.URL+"/flo/devices/device-1/valve", "application/json",
		strings.NewReader(`{"target": "closed"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.mutations) != 1 || api.mutations[0] != "/v2/devices/device-1" {
		t.Fatalf("unexpected upstream mutations: %v", api.mutations)
	}
}

func TestSetValveRejectsBadTarget(t *testing.T) {
	plugin, _ := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Post(server.URL+"/flo/devices/device-1/valve", "application/json",
		strings.NewReader(`{"target": "ajar"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSystemModeSleep(t *testing.T) {
	plugin, api := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Post(server.URL+"/flo/locations/location-1/systemMode", "application/json",
		strings.NewReader(`{"target": "sleep", "revert_minutes": 120, "revert_mode": "home"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.mutations) != 1 || api.mutations[0] != "/v2/locations/location-1/systemMode" {
		t.Fatalf("unexpected upstream mutations: %v", api.mutations)
	}
}

func TestSystemModeSleepRequiresRevert(t *testing.T) {
	plugin, _ := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Post(server.URL+"/flo/locations/location-1/systemMode", "application/json",
		strings.NewReader(`{"target": "sleep"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealthTestEndpoint(t *testing.T) {
	plugin, api := newTestPlugin(t)
	server := serveTestPlugin(t, plugin)

	resp, err := http.Post(server.URL+"/flo/devices/device-1/healthTest", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.mutations) != 1 || api.mutations[0] != "/v2/devices/device-1/healthTest/run" {
		t.Fatalf("unexpected upstream mutations: %v", api.mutations)
	}
}
