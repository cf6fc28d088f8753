package internal_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-gateway/internal"
)

func setEnv(key, value string) {
	prev, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func validConfig() *internal.Config {
	return &internal.Config{
		Server: internal.ServerConfig{
			AllowedOrigins:    "https://shop.example.com",
			ReadHeaderTimeout: time.Second,
			ReadTimeout:       5 * time.Second,
		},
		Database: internal.DatabaseConfig{
			Driver:       "pgx",
			Source:       "postgres://localhost/payments",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Security: internal.SecurityConfig{
			JWTSecret:           "0123456789abcdef0123456789abcdef",
			AccessTokenDuration: 15 * time.Minute,
		},
		Gateways: internal.GatewaysConfig{
			Providers: map[string]internal.GatewayEntry{
				"stripe": {Enabled: true, Priority: 1, SupportedCurrencies: []string{"USD"}},
			},
		},
	}
}

var _ = Describe("Config", func() {
	Describe("Validate", func() {
		It("accepts a complete configuration", func() {
			Expect(validConfig().Validate()).To(Succeed())
		})

		It("collects problems from every section", func() {
			cfg := validConfig()
			cfg.Security.JWTSecret = "short"
			cfg.Database.Source = ""

			err := cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("security config"))
			Expect(err.Error()).To(ContainSubstring("database config"))
		})

		It("rejects unknown database drivers", func() {
			cfg := validConfig()
			cfg.Database.Driver = "mysql"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("unsupported driver")))
		})

		It("rejects malformed currency codes", func() {
			cfg := validConfig()
			cfg.Gateways.Providers["paypal"] = internal.GatewayEntry{SupportedCurrencies: []string{"DOLLAR"}}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring(`invalid currency code "DOLLAR"`)))
		})

		It("requires a failure threshold when the breaker is on", func() {
			cfg := validConfig()
			cfg.Gateways.CircuitBreaker.Enabled = true
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("failure_threshold")))
		})

		It("defaults the driver to pgx", func() {
			cfg := validConfig()
			cfg.Database.Driver = ""
			Expect(cfg.Database.DriverName()).To(Equal("pgx"))
		})
	})

	Describe("LoadConfigFromEnv", func() {
		It("builds gateways from provider variables", func() {
			setEnv("STRIPE_SECRET_KEY", "sk_test_1")
			setEnv("STRIPE_WEBHOOK_SECRET", "whsec_1")
			setEnv("PAYPAL_ENABLED", "false")
			setEnv("PAYPAL_WEBHOOK_ID", "WH-1")
			setEnv("SANDBOX_ENABLED", "true")
			setEnv("SANDBOX_WEBHOOK_TOKEN", "tok")
			setEnv("API_KEY_HASHES", " $2a$10$one , ,$2a$10$two")

			cfg := internal.LoadConfigFromEnv()

			stripe := cfg.Gateways.Providers["stripe"]
			Expect(stripe.Enabled).To(BeTrue())
			Expect(stripe.Credentials["secret_key"]).To(Equal("sk_test_1"))
			Expect(cfg.Gateways.Providers["paypal"].Enabled).To(BeFalse())
			Expect(cfg.Gateways.Providers["paypal"].Credentials).To(HaveKeyWithValue("webhook_id", "WH-1"))
			Expect(cfg.Gateways.Providers).To(HaveKey("sandbox"))
			Expect(cfg.Security.APIKeyHashes).To(Equal([]string{"$2a$10$one", "$2a$10$two"}))
		})

		It("leaves the sandbox out unless enabled", func() {
			setEnv("SANDBOX_ENABLED", "false")
			cfg := internal.LoadConfigFromEnv()
			Expect(cfg.Gateways.Providers).NotTo(HaveKey("sandbox"))
		})

		It("falls back to defaults on unparsable values", func() {
			setEnv("HTTP_PORT", "not-a-number")
			setEnv("HTTP_READ_TIMEOUT", "forever")
			cfg := internal.LoadConfigFromEnv()
			Expect(cfg.Server.Port).To(Equal(8080))
			Expect(cfg.Server.ReadTimeout).To(Equal(15 * time.Second))
		})
	})
})
