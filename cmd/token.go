package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway/internal/auth"
)

var (
	tokenUserID string
	tokenRole   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue access tokens and API key hashes",
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a signed access token",
	Long:  `Mint an access token with the configured JWT secret, e.g. to bootstrap the first admin.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		gen := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.AccessTokenDuration)
		svc := auth.NewService(gen, nil, nil)

		token, expiresAt, err := svc.IssueToken(tokenUserID, tokenRole)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}

		fmt.Println(token)
		fmt.Printf("expires at %s\n", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Hash an API key for security.api_key_hashes",
	Long:  `Hash the given API key, or generate a new one when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cost := 10
		if cfg, err := loadConfig(configPath); err == nil && cfg.Security.BCryptCost > 0 {
			cost = cfg.Security.BCryptCost
		}

		key := ""
		if len(args) == 1 {
			key = args[0]
		} else {
			generated, err := auth.GenerateRandomToken()
			if err != nil {
				log.Fatalf("failed to generate api key: %v", err)
			}
			key = generated
			fmt.Printf("api key: %s\n", key)
		}

		hash, err := auth.HashAPIKey(key, cost)
		if err != nil {
			log.Fatalf("failed to hash api key: %v", err)
		}
		fmt.Printf("hash:    %s\n", hash)
	},
}

func init() {
	issueTokenCmd.Flags().StringVar(&tokenUserID, "user", "", "subject of the token")
	issueTokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleAdmin, "role claim: admin, merchant, customer or service")
	_ = issueTokenCmd.MarkFlagRequired("user")

	tokenCmd.AddCommand(issueTokenCmd)
	tokenCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(tokenCmd)
}
