package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/app"
	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/orders"
	"github.com/stockbook/stockbook/internal/platform/cache"
	"github.com/stockbook/stockbook/internal/platform/db"
	"github.com/stockbook/stockbook/internal/shared"
	"github.com/stockbook/stockbook/migrations"
)

const actor = "seed"

// seedSpace makes demo ids stable across runs.
var seedSpace = uuid.MustParse("6f1c0c57-3b4e-4f53-9a55-2f0f6b0d6a11")

func seedID(name string) uuid.UUID {
	return uuid.NewSHA1(seedSpace, []byte(name))
}

type demoMaterial struct {
	name    string
	unit    string
	rate    string
	opening string
}

var demoMaterials = []demoMaterial{
	{"Thread White", "cone", "45.00", "120"},
	{"Thread Black", "cone", "45.00", "80"},
	{"Button 14L", "gross", "60.00", "40"},
	{"Elastic 1in", "roll", "210.00", "15"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	if _, err := db.Migrate(ctx, pool, migrations.Files); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding parties and materials...")
	if err := seedMasterData(ctx, pool); err != nil {
		log.Fatalf("seed master data: %v", err)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() { _ = redisClient.Close() }()

	services, err := app.NewServices(app.Deps{Config: cfg, Logger: logger, Pool: pool, Redis: redisClient})
	if err != nil {
		log.Fatalf("build services: %v", err)
	}

	fmt.Println("→ Initializing ledger...")
	initResult, err := services.Backfill.InitializeLedger(ctx, actor)
	if err != nil {
		log.Fatalf("initialize ledger: %v", err)
	}
	if initResult.Skipped {
		fmt.Println("  ledger already initialized")
	}

	fmt.Println("→ Seeding stock movements and orders...")
	if err := seedActivity(ctx, services); err != nil {
		log.Fatalf("seed activity: %v", err)
	}
	fmt.Println("✓ Seed complete")
}

func seedMasterData(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
INSERT INTO parties (id, name, order_prefix, phone)
VALUES ($1, 'Rajan Garments', 'RG', '+91 98450 11223'),
       ($2, 'Meera Exports', 'ME', NULL)
ON CONFLICT (id) DO NOTHING`, seedID("party:rajan"), seedID("party:meera"))
	if err != nil {
		return fmt.Errorf("parties: %w", err)
	}

	category := seedID("category:trims")
	if _, err := pool.Exec(ctx, `INSERT INTO material_categories (id, name) VALUES ($1, 'Trims') ON CONFLICT (id) DO NOTHING`, category); err != nil {
		return fmt.Errorf("categories: %w", err)
	}

	for _, m := range demoMaterials {
		opening := decimal.RequireFromString(m.opening)
		_, err := pool.Exec(ctx, `
INSERT INTO materials (id, name, unit, rate, opening_stock, current_stock, category_id)
VALUES ($1, $2, $3, $4, $5, $5, $6)
ON CONFLICT (id) DO NOTHING`, seedID("material:"+m.name), m.name, m.unit, decimal.RequireFromString(m.rate), opening, category)
		if err != nil {
			return fmt.Errorf("material %s: %w", m.name, err)
		}
	}
	return nil
}

func seedActivity(ctx context.Context, services *app.Services) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	party := seedID("party:rajan")

	_, err := services.Ledger.RecordStockIn(ctx, ledger.StockInInput{
		MaterialID:      seedID("material:Thread White"),
		Quantity:        decimal.NewFromInt(24),
		TransactionDate: today.AddDate(0, 0, -3),
		SourceType:      ledger.SourceMarketPurchase,
		Remarks:         "demo purchase",
		ActorID:         actor,
		IdempotencyKey:  "seed-stock-in-1",
	})
	if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
		return fmt.Errorf("stock in: %w", err)
	}

	existing, err := services.Orders.List(ctx, orders.ListFilter{PartyID: &party})
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	if len(existing) > 0 {
		fmt.Println("  demo orders already present")
		return nil
	}

	white := seedID("material:Thread White")
	result, err := services.Orders.Create(ctx, orders.CreateOrderInput{
		PartyID:   &party,
		OrderDate: today.AddDate(0, 0, -1),
		Remarks:   "demo order",
		Items: []orders.ItemInput{
			{Particular: "Polo shirt", Quantity: decimal.NewFromInt(10), QuantityUnit: "dzn", Rate: decimal.NewFromInt(1800)},
		},
		Deductions: []orders.DeductionInput{
			{MaterialID: &white, Quantity: decimal.NewFromInt(6), Rate: decimal.NewFromInt(45)},
			{MaterialName: "Zipper 7in", Quantity: decimal.NewFromInt(30), Rate: decimal.NewFromInt(4)},
		},
		ActorID: actor,
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	fmt.Printf("  order %s created, %d ledger lines\n", result.Order.OrderNumber, len(result.Lines))
	return nil
}
