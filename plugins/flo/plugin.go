package flo

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-flo/internal/core"
	"github.com/joshp123/gohome-flo/internal/poll"
	"github.com/joshp123/gohome-flo/internal/tokenstore"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// Runtime is the immutable pairing of the shared API client and the
// per-device coordinators, built once per successful setup.
type Runtime struct {
	Client       *Client
	Coordinators []*DeviceCoordinator
}

// Plugin implements the plugin contract for the Flo integration.
type Plugin struct {
	cfg    Config
	store  *tokenstore.Store
	logger *slog.Logger

	mu            sync.RWMutex
	runtime       *Runtime
	health        core.HealthStatus
	healthMessage string
}

func NewPlugin(cfg Config, store *tokenstore.Store, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		cfg:    cfg,
		store:  store,
		logger: logger,
		health: core.HealthDegraded,
	}
}

// Setup authenticates, discovers the account's device topology, builds one
// coordinator per device, and runs an initial refresh on each. Auth or
// request failures leave the plugin not ready; the caller retries.
func (p *Plugin) Setup(ctx context.Context) error {
	client := NewClient(p.cfg, p.store, p.logger)

	if err := client.Authenticate(ctx); err != nil {
		p.setNotReady(err)
		return err
	}

	userInfo, err := client.UserInfo(ctx, true, false)
	if err != nil {
		p.setNotReady(err)
		return err
	}

	locations, err := userInfo.Docs("locations")
	if err != nil {
		err = fmt.Errorf("user info has no locations: %w", err)
		p.setNotReady(err)
		return err
	}

	var coordinators []*DeviceCoordinator
	for _, location := range locations {
		locationID, err := location.Str("id")
		if err != nil {
			continue
		}
		devices, err := location.Docs("devices")
		if err != nil {
			continue
		}
		for _, device := range devices {
			deviceID, err := device.Str("id")
			if err != nil {
				continue
			}
			coordinators = append(coordinators, NewDeviceCoordinator(client, locationID, deviceID, p.logger))
		}
	}

	if len(coordinators) == 0 {
		err := fmt.Errorf("no devices found for account")
		p.setNotReady(err)
		return err
	}

	for _, coordinator := range coordinators {
		refreshCtx, cancel := context.WithTimeout(ctx, poll.DefaultCycleTimeout)
		// Initial refresh; soft failures are absorbed by the coordinator
		// and surface as unknown state until the next cycle.
		_ = coordinator.Update(refreshCtx)
		cancel()
	}

	p.mu.Lock()
	p.runtime = &Runtime{Client: client, Coordinators: coordinators}
	p.health = core.HealthHealthy
	p.healthMessage = ""
	p.mu.Unlock()

	p.logger.Info("flo setup complete", "devices", len(coordinators))
	return nil
}

// Run retries setup until it succeeds, then drives one poller per device
// until the context is cancelled.
func (p *Plugin) Run(ctx context.Context) {
	for {
		if err := p.Setup(ctx); err == nil {
			break
		} else {
			p.logger.Info("flo not ready, retrying setup",
				"retry_in", p.cfg.SetupRetry, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.SetupRetry):
		}
	}

	runtime := p.Runtime()
	var wg sync.WaitGroup
	for _, coordinator := range runtime.Coordinators {
		poller := poll.New(coordinator, p.cfg.PollInterval, poll.DefaultCycleTimeout, p.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}
	wg.Wait()
}

// Runtime returns the active runtime, or nil before setup succeeds.
func (p *Plugin) Runtime() *Runtime {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runtime
}

func (p *Plugin) setNotReady(err error) {
	p.mu.Lock()
	p.health = core.HealthError
	p.healthMessage = err.Error()
	p.mu.Unlock()
}

func (p *Plugin) ID() string { return "flo" }

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "flo",
		DisplayName: "Flo by Moen",
		Version:     "0.1.0",
		Endpoints: []string{
			"GET /flo/devices",
			"GET /flo/devices/{id}",
			"POST /flo/devices/{id}/valve",
			"POST /flo/devices/{id}/healthTest",
			"POST /flo/locations/{id}/systemMode",
		},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "flo-overview", JSON: dashboardJSON}}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		NewMetricsCollector(func() []*DeviceCoordinator {
			runtime := p.Runtime()
			if runtime == nil {
				return nil
			}
			return runtime.Coordinators
		}),
	}
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}
