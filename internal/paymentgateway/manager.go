package paymentgateway

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/frahmantamala/payment-gateway/internal"
)

type cachedGateway struct {
	cfg     GatewayConfig
	gateway Gateway
}

// Manager maps gateway drivers to adapter factories and hands out adapter
// instances for the configured gateways.
type Manager struct {
	configs *ConfigRegistry
	logger  *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]cachedGateway
}

func NewManager(configs *ConfigRegistry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs:   configs,
		logger:    logger,
		factories: make(map[string]Factory),
		instances: make(map[string]cachedGateway),
	}
}

func (m *Manager) Configs() *ConfigRegistry {
	return m.configs
}

// Register installs factory under name, replacing an existing one.
func (m *Manager) Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))

	m.mu.Lock()
	_, replaced := m.factories[key]
	m.factories[key] = factory
	m.dropInstancesLocked()
	m.mu.Unlock()

	m.logger.Info("payment gateway registered", "gateway", key, "replaced", replaced)
}

func (m *Manager) Unregister(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))

	m.mu.Lock()
	_, ok := m.factories[key]
	if ok {
		delete(m.factories, key)
		m.dropInstancesLocked()
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info("payment gateway unregistered", "gateway", key)
	}
	return ok
}

func (m *Manager) IsRegistered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.factories[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (m *Manager) RegisteredNames() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ResolveActive returns one adapter per active gateway in priority order. Gateways
// that cannot be built are skipped with a warning.
func (m *Manager) ResolveActive() []Gateway {
	active := m.configs.ListActiveByPriority()
	gateways := make([]Gateway, 0, len(active))
	for _, cfg := range active {
		gw, err := m.instance(cfg)
		if err != nil {
			m.logger.Warn("skipping payment gateway", "gateway", cfg.Name, "error", err)
			continue
		}
		gateways = append(gateways, gw)
	}
	return gateways
}

// ResolveActiveByName returns the adapter for name only if that gateway is active.
func (m *Manager) ResolveActiveByName(name string) (Gateway, error) {
	cfg, ok := m.configs.Get(name)
	if !ok || !cfg.IsActive {
		return nil, internal.NewConfigurationError(
			fmt.Sprintf("payment gateway %q is not active", name),
			internal.ErrCodeGatewayNotConfigured,
		)
	}
	return m.build(cfg)
}

// Resolve returns the adapter for any configured gateway, active or not. Refunds and
// webhooks for earlier payments go to the gateway that took them.
func (m *Manager) Resolve(name string) (Gateway, error) {
	cfg, ok := m.configs.Get(name)
	if !ok {
		return nil, internal.NewConfigurationError(
			fmt.Sprintf("payment gateway %q is not configured", name),
			internal.ErrCodeGatewayNotConfigured,
		)
	}
	return m.build(cfg)
}

func (m *Manager) build(cfg GatewayConfig) (Gateway, error) {
	gw, err := m.instance(cfg)
	if err != nil {
		return nil, internal.NewConfigurationError(
			fmt.Sprintf("payment gateway %q is unavailable", cfg.Name),
			internal.ErrCodeGatewayUnavailable,
		).WithCause(err)
	}
	return gw, nil
}

func (m *Manager) instance(cfg GatewayConfig) (Gateway, error) {
	m.mu.RLock()
	cached, ok := m.instances[cfg.Name]
	factory, registered := m.factories[cfg.FactoryKey()]
	m.mu.RUnlock()

	if ok && reflect.DeepEqual(cached.cfg, cfg) {
		return cached.gateway, nil
	}
	if !registered {
		return nil, fmt.Errorf("no adapter registered for driver %q", cfg.FactoryKey())
	}

	gw, err := factory(cfg, m.logger.With("gateway", cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("create adapter: %w", err)
	}
	if gw == nil {
		return nil, fmt.Errorf("adapter factory for %q returned nil", cfg.FactoryKey())
	}

	m.mu.Lock()
	if existing, found := m.instances[cfg.Name]; found {
		if reflect.DeepEqual(existing.cfg, cfg) {
			m.mu.Unlock()
			closeGateway(gw)
			return existing.gateway, nil
		}
		closeGateway(existing.gateway)
	}
	m.instances[cfg.Name] = cachedGateway{cfg: cfg, gateway: gw}
	m.mu.Unlock()

	return gw, nil
}

func (m *Manager) dropInstancesLocked() {
	for name, cached := range m.instances {
		closeGateway(cached.gateway)
		delete(m.instances, name)
	}
}

// Close releases adapters that hold background resources.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropInstancesLocked()
}

func closeGateway(gw Gateway) {
	if closer, ok := gw.(io.Closer); ok {
		_ = closer.Close()
	}
}
