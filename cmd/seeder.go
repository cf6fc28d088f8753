package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/order"
	orderPostgres "github.com/frahmantamala/payment-gateway/internal/order/postgres"
)

var seedOrders = []order.Order{
	{ID: "11111111-1111-4111-8111-111111111111", CustomerID: "cust-demo-1", CustomerEmail: "alice@example.com", TotalAmount: decimal.RequireFromString("49.99"), Currency: "USD"},
	{ID: "22222222-2222-4222-8222-222222222222", CustomerID: "cust-demo-2", CustomerEmail: "bruno@example.com", TotalAmount: decimal.RequireFromString("120.00"), Currency: "EUR"},
	{ID: "33333333-3333-4333-8333-333333333333", CustomerID: "cust-demo-3", CustomerEmail: "carla@example.com", TotalAmount: decimal.RequireFromString("89.90"), Currency: "BRL"},
	{ID: "44444444-4444-4444-8444-444444444444", CustomerID: "cust-demo-4", CustomerEmail: "daichi@example.com", TotalAmount: decimal.RequireFromString("5000"), Currency: "JPY"},
	{ID: "55555555-5555-4555-8555-555555555555", CustomerID: "cust-demo-5", CustomerEmail: "erin@example.com", TotalAmount: decimal.RequireFromString("15.25"), Currency: "GBP"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo orders",
	Long:  `Seed the database with pending test orders that can be charged through the sandbox gateway.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		dbs, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer dbs.Close()

		if clearData {
			query := dbs.SQL.Rebind(`DELETE FROM payments WHERE order_id IN (SELECT id FROM orders WHERE is_test = ?)`)
			if _, err := dbs.SQL.ExecContext(ctx, query, true); err != nil {
				log.Fatalf("failed to clear demo payments: %v", err)
			}
			query = dbs.SQL.Rebind(`DELETE FROM orders WHERE is_test = ?`)
			if _, err := dbs.SQL.ExecContext(ctx, query, true); err != nil {
				log.Fatalf("failed to clear demo orders: %v", err)
			}
			fmt.Println("Cleared demo orders and their payments")
		}

		repo := orderPostgres.NewOrderRepository(dbs.SQL)
		for _, o := range seedOrders {
			o := o
			if _, err := repo.GetByID(ctx, o.ID); err == nil {
				fmt.Printf("order %s already exists; skipping\n", o.ID)
				continue
			} else if !internal.IsNotFound(err) {
				log.Fatalf("failed to look up order %s: %v", o.ID, err)
			}

			o.Status = order.StatusPending
			o.IsTest = true
			if err := repo.Create(ctx, &o); err != nil {
				log.Fatalf("failed to insert order %s: %v", o.ID, err)
			}
			fmt.Printf("Seeded order %s: %s %s for %s\n", o.ID, o.TotalAmount.StringFixed(2), o.Currency, o.CustomerEmail)
		}

		fmt.Println("Demo orders seeded successfully")
	},
}
