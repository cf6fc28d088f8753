package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/pkg/logger"
)

var (
	replayGateway string
	replayFile    string
	replayHeaders []string
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Provider webhook tools",
}

// replayWebhookCmd feeds a stored notification through the same path as the HTTP
// endpoint, for recovering deliveries the provider gave up on.
var replayWebhookCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a stored provider notification",
	Long: `Replay a stored provider notification through the webhook handler.

Pass the raw body and the original signature headers. Signatures are verified as
usual, but Stripe's five-minute timestamp window is not applied, so notifications
older than that can still be replayed.`,
	Example: `  payment-gateway webhook replay -g stripe -f event.json -H "Stripe-Signature: t=...,v1=..."`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		logger.Configure(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
		lg := logger.L()

		body, err := os.ReadFile(replayFile)
		if err != nil {
			log.Fatalf("failed to read %s: %v", replayFile, err)
		}

		headers, err := parseHeaders(replayHeaders)
		if err != nil {
			log.Fatal(err)
		}

		dbs, err := initDB(cfg.Database)
		exitOnError(lg, "failed to init db", err)
		defer dbs.Close()

		stack, err := buildPaymentStack(ctx, cfg, dbs, lg)
		exitOnError(lg, "failed to build payment stack", err)
		defer stack.Close(ctx, lg)

		result, err := stack.Service.HandleWebhook(ctx, replayGateway, replayPayload(headers, body))
		exitOnError(lg, "webhook replay failed", err)

		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	},
}

func replayPayload(headers http.Header, body []byte) *types.WebhookPayload {
	return &types.WebhookPayload{Headers: headers, Body: body, Replay: true}
}

func parseHeaders(raw []string) (http.Header, error) {
	headers := http.Header{}
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected Name: value", h)
		}
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return headers, nil
}

func init() {
	replayWebhookCmd.Flags().StringVarP(&replayGateway, "gateway", "g", "", "gateway name the notification belongs to")
	replayWebhookCmd.Flags().StringVarP(&replayFile, "file", "f", "", "file holding the raw request body")
	replayWebhookCmd.Flags().StringArrayVarP(&replayHeaders, "header", "H", nil, "request header as 'Name: value', repeatable")
	_ = replayWebhookCmd.MarkFlagRequired("gateway")
	_ = replayWebhookCmd.MarkFlagRequired("file")

	webhookCmd.AddCommand(replayWebhookCmd)
	rootCmd.AddCommand(webhookCmd)
}
