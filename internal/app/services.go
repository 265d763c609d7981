package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockbook/stockbook/internal/backfill"
	"github.com/stockbook/stockbook/internal/backup"
	jobmetrics "github.com/stockbook/stockbook/internal/jobs"
	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/observability"
	"github.com/stockbook/stockbook/internal/orders"
	"github.com/stockbook/stockbook/internal/platform/cache"
	"github.com/stockbook/stockbook/internal/reports"
	"github.com/stockbook/stockbook/internal/shared"
)

// Services holds the domain services shared by the server, worker and CLI.
type Services struct {
	Ledger   *ledger.Service
	Orders   *orders.Service
	Backfill *backfill.Service
	Reports  *reports.Service
	Backup   *backup.Service
}

// Deps are the infrastructure handles Services are built from. Redis and
// the metric sinks may be nil.
type Deps struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics
}

// NewServices wires repositories, cache, locks and audit into the services.
func NewServices(d Deps) (*Services, error) {
	inception, err := d.Config.InceptionDate()
	if err != nil {
		return nil, err
	}

	audit := shared.NewAuditLogger(d.Pool)
	idempotency := shared.NewIdempotencyStore(d.Pool)
	locker := cache.NewLocker(d.Redis, d.Config.LockTTL)
	reportCache := reports.NewCache(d.Redis, d.Config.ReportCacheTTL)

	ledgerRepo := ledger.NewRepository(d.Pool)
	ordersRepo := orders.NewRepository(d.Pool)

	var unresolved orders.UnresolvedRecorder
	var anomalies reports.AnomalyRecorder
	if d.Metrics != nil {
		unresolved = d.Metrics
		anomalies = d.Metrics
	}
	var drift backfill.DriftRecorder
	if d.JobMetrics != nil {
		drift = d.JobMetrics
	}
	bridge := orders.NewBridge(d.Logger, unresolved)

	return &Services{
		Ledger: ledger.NewService(ledgerRepo, audit, idempotency, reportCache, d.Logger, ledger.ServiceConfig{
			AllowNegativeStock: d.Config.AllowNegativeStock,
		}),
		Orders: orders.NewService(ordersRepo, bridge, audit, reportCache, d.Logger, orders.ServiceConfig{
			SyncAdjustsStock: d.Config.LedgerSyncAdjustStock,
		}),
		Backfill: backfill.NewService(ordersRepo, bridge, locker, audit, reportCache, drift, d.Logger, backfill.Config{
			Inception:         inception,
			AdjustStockOnSync: d.Config.LedgerSyncAdjustStock,
		}),
		Reports: reports.NewService(ledgerRepo, reportCache, anomalies, d.Logger),
		Backup:  backup.NewService(backup.NewRepository(d.Pool), locker, audit, reportCache, d.Logger),
	}, nil
}
