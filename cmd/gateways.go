package cmd

import (
	"log"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
)

type gatewayView struct {
	Name                string   `yaml:"name"`
	Driver              string   `yaml:"driver"`
	Active              bool     `yaml:"active"`
	Priority            int      `yaml:"priority"`
	Credentials         []string `yaml:"credentials"`
	APIEndpoint         string   `yaml:"api_endpoint,omitempty"`
	WebhookEndpoint     string   `yaml:"webhook_endpoint,omitempty"`
	SupportedCurrencies []string `yaml:"supported_currencies"`
	RetryAttempts       int      `yaml:"retry_attempts"`
	Timeout             string   `yaml:"timeout"`
}

// toGatewayView keeps credential names and drops their values.
func toGatewayView(cfg paymentgateway.GatewayConfig) gatewayView {
	creds := make([]string, 0, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		state := "missing"
		if v != "" {
			state = "set"
		}
		creds = append(creds, k+": "+state)
	}
	sort.Strings(creds)

	return gatewayView{
		Name:                cfg.Name,
		Driver:              cfg.FactoryKey(),
		Active:              cfg.IsActive,
		Priority:            cfg.Priority,
		Credentials:         creds,
		APIEndpoint:         cfg.APIEndpoint,
		WebhookEndpoint:     cfg.WebhookEndpoint,
		SupportedCurrencies: cfg.SupportedCurrencies,
		RetryAttempts:       cfg.RetryAttempts,
		Timeout:             cfg.Timeout.String(),
	}
}

var gatewaysCmd = &cobra.Command{
	Use:   "gateways",
	Short: "Print the resolved gateway configuration in failover order",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		registry := paymentgateway.NewConfigRegistry(paymentgateway.ConfigsFromSettings(cfg.Gateways)...)
		views := make([]gatewayView, 0)
		for _, gw := range registry.List() {
			views = append(views, toGatewayView(gw))
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(map[string]interface{}{"gateways": views}); err != nil {
			log.Fatalf("failed to encode gateways: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewaysCmd)
}
