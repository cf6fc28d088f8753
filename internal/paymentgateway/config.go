package paymentgateway

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/payment-gateway/internal"
)

const (
	DefaultRetryAttempts = 3
	DefaultTimeout       = 30 * time.Second
)

type GatewayConfig struct {
	Name                string
	Driver              string
	IsActive            bool
	Priority            int
	Credentials         map[string]string
	APIEndpoint         string
	WebhookEndpoint     string
	SupportedCurrencies []string
	RetryAttempts       int
	Timeout             time.Duration
	// RateLimit caps outbound calls per second; zero disables it.
	RateLimit float64
}

func (c GatewayConfig) Credential(key string) string {
	return c.Credentials[key]
}

// FactoryKey is the name of the adapter that serves this config.
func (c GatewayConfig) FactoryKey() string {
	if c.Driver != "" {
		return strings.ToLower(c.Driver)
	}
	return c.Name
}

func (c GatewayConfig) SupportsCurrency(currency string) bool {
	for _, s := range c.SupportedCurrencies {
		if strings.EqualFold(s, currency) {
			return true
		}
	}
	return false
}

func normalizeConfig(cfg GatewayConfig) GatewayConfig {
	cfg.Name = strings.ToLower(strings.TrimSpace(cfg.Name))
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	currencies := make([]string, 0, len(cfg.SupportedCurrencies))
	for _, c := range cfg.SupportedCurrencies {
		currencies = append(currencies, strings.ToUpper(strings.TrimSpace(c)))
	}
	cfg.SupportedCurrencies = currencies
	return cfg
}

// ConfigRegistry holds the gateway configurations known to the process. It is filled
// at startup and read concurrently afterwards.
type ConfigRegistry struct {
	mu      sync.RWMutex
	configs map[string]GatewayConfig
}

func NewConfigRegistry(configs ...GatewayConfig) *ConfigRegistry {
	r := &ConfigRegistry{configs: make(map[string]GatewayConfig)}
	for _, cfg := range configs {
		r.Register(cfg)
	}
	return r
}

// Register stores cfg under its lower-cased name, replacing any previous entry.
func (r *ConfigRegistry) Register(cfg GatewayConfig) {
	cfg = normalizeConfig(cfg)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
}

func (r *ConfigRegistry) Get(name string) (GatewayConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[strings.ToLower(strings.TrimSpace(name))]
	return cfg, ok
}

func (r *ConfigRegistry) List() []GatewayConfig {
	r.mu.RLock()
	out := make([]GatewayConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	r.mu.RUnlock()
	sortByPriority(out)
	return out
}

// ListActiveByPriority returns active configs, lowest priority value first. Ties are
// broken by name so the order is stable.
func (r *ConfigRegistry) ListActiveByPriority() []GatewayConfig {
	all := r.List()
	active := all[:0]
	for _, cfg := range all {
		if cfg.IsActive {
			active = append(active, cfg)
		}
	}
	return active
}

func sortByPriority(configs []GatewayConfig) {
	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Priority != configs[j].Priority {
			return configs[i].Priority < configs[j].Priority
		}
		return configs[i].Name < configs[j].Name
	})
}

// ConfigsFromSettings turns the gateways section of the application config into
// gateway configs. A gateway is active when it is enabled and every credential it
// declares has a value.
func ConfigsFromSettings(settings internal.GatewaysConfig) []GatewayConfig {
	configs := make([]GatewayConfig, 0, len(settings.Providers))
	for name, entry := range settings.Providers {
		configs = append(configs, normalizeConfig(GatewayConfig{
			Name:                name,
			Driver:              entry.Driver,
			IsActive:            entry.Enabled && credentialsComplete(entry.Credentials),
			Priority:            entry.Priority,
			Credentials:         entry.Credentials,
			APIEndpoint:         entry.APIEndpoint,
			WebhookEndpoint:     entry.WebhookEndpoint,
			SupportedCurrencies: entry.SupportedCurrencies,
			RetryAttempts:       entry.RetryAttempts,
			Timeout:             entry.Timeout,
			RateLimit:           entry.RateLimit,
		}))
	}
	sortByPriority(configs)
	return configs
}

func credentialsComplete(creds map[string]string) bool {
	if len(creds) == 0 {
		return false
	}
	for _, v := range creds {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}
