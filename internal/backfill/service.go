// Package backfill repairs ledger gaps left by data written before the ledger
// and the order bridge existed.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/orders"
	"github.com/stockbook/stockbook/internal/shared"
)

// Mode selects between previewing and persisting a repair.
type Mode string

const (
	// ModeDry reports what would change without writing.
	ModeDry Mode = "dry"
	// ModeApply persists the repair.
	ModeApply Mode = "apply"
)

// ParseMode accepts "dry" (the default for an empty value) or "apply".
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeDry:
		return ModeDry, nil
	case ModeApply:
		return ModeApply, nil
	default:
		return "", shared.NewValidationError("mode", "must be dry or apply")
	}
}

// RepositoryPort opens the shared order + ledger transaction.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error
}

// Locker serialises bulk operations across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// DriftRecorder counts materials whose cached stock disagrees with the ledger.
type DriftRecorder interface {
	AddDrift(mode string, count int)
}

// Config tunes the repairs.
type Config struct {
	// Inception dates opening-balance entries. Zero means the earliest
	// material creation date.
	Inception time.Time
	// AdjustStockOnSync also decrements current_stock while backfilling order
	// deductions. Off by default: historical orders already consumed stock.
	AdjustStockOnSync bool
	Now               func() time.Time
}

// Service runs the one-shot ledger repairs.
type Service struct {
	repo   RepositoryPort
	bridge *orders.Bridge
	locker Locker
	audit  ledger.AuditPort
	cache  ledger.CacheInvalidator
	drift  DriftRecorder
	logger *slog.Logger
	cfg    Config
}

// NewService builds Service. locker, audit, cache and drift may be nil.
func NewService(repo RepositoryPort, bridge *orders.Bridge, locker Locker, audit ledger.AuditPort, cache ledger.CacheInvalidator, drift DriftRecorder, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if bridge == nil {
		bridge = orders.NewBridge(logger, nil)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, bridge: bridge, locker: locker, audit: audit, cache: cache, drift: drift, logger: logger, cfg: cfg}
}

// InitResult summarises a ledger initialisation.
type InitResult struct {
	// Skipped is set when the ledger already had rows.
	Skipped   bool                 `json:"skipped"`
	Inception time.Time            `json:"inception"`
	Entries   []ledger.Transaction `json:"entries"`
}

// InitializeLedger writes one opening-balance entry per stocked material when
// the ledger is empty. A non-empty ledger makes it a no-op, so repeated runs
// never duplicate opening entries.
func (s *Service) InitializeLedger(ctx context.Context, actor string) (InitResult, error) {
	var result InitResult
	err := s.locked(ctx, shared.LockLedgerInitialize, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
			count, err := tx.CountTransactions(ctx)
			if err != nil {
				return fmt.Errorf("backfill: count transactions: %w", err)
			}
			if count > 0 {
				result.Skipped = true
				return nil
			}
			materials, err := tx.ListMaterials(ctx)
			if err != nil {
				return fmt.Errorf("backfill: list materials: %w", err)
			}
			result.Inception = s.inception(materials)
			for _, m := range materials {
				qty := openingQuantity(m)
				if !qty.IsPositive() {
					continue
				}
				entry, err := ledger.Post(ctx, tx, ledger.Movement{
					MaterialID: m.ID,
					Direction:  ledger.Increase,
					Quantity:   qty,
					Date:       result.Inception,
					SourceType: ledger.SourceOpeningStock,
					Remarks:    "Opening balance",
					LedgerOnly: true,
				})
				if err != nil {
					return fmt.Errorf("backfill: opening entry for %s: %w", m.Name, err)
				}
				result.Entries = append(result.Entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return InitResult{}, err
	}
	if result.Skipped {
		s.logger.Info("ledger already initialised; nothing to do")
		return result, nil
	}
	s.logger.Info("ledger initialised", slog.Int("entries", len(result.Entries)), slog.Time("inception", result.Inception))
	s.finish(ctx, actor, "ledger:initialize", map[string]any{"entries": len(result.Entries)}, len(result.Entries) > 0)
	return result, nil
}

// openingQuantity prefers opening_stock. Materials created with only a
// current_stock figure fall back to it.
func openingQuantity(m ledger.Material) decimal.Decimal {
	if !m.OpeningStock.IsZero() {
		return m.OpeningStock
	}
	return m.CurrentStock
}

func (s *Service) inception(materials []ledger.Material) time.Time {
	if !s.cfg.Inception.IsZero() {
		return ledger.DateOf(s.cfg.Inception)
	}
	var earliest time.Time
	for _, m := range materials {
		if m.CreatedAt.IsZero() {
			continue
		}
		if earliest.IsZero() || m.CreatedAt.Before(earliest) {
			earliest = m.CreatedAt
		}
	}
	if earliest.IsZero() {
		earliest = s.cfg.Now()
	}
	return ledger.DateOf(earliest)
}

// SyncResult summarises an order-ledger sync.
type SyncResult struct {
	Orders     int                 `json:"orders"`
	Applied    int                 `json:"applied"`
	Unresolved int                 `json:"unresolved"`
	Lines      []orders.LineResult `json:"lines"`
}

// SyncOrderLedger writes the missing stock-out entry for every deduction that
// has none yet. Synced lines are flagged, so a second run only retries lines
// whose material could not be resolved.
func (s *Service) SyncOrderLedger(ctx context.Context, actor string) (SyncResult, error) {
	var result SyncResult
	err := s.locked(ctx, shared.LockLedgerSyncOrders, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
			pending, err := tx.ListUnsyncedDeductions(ctx)
			if err != nil {
				return fmt.Errorf("backfill: list unsynced deductions: %w", err)
			}
			if len(pending) == 0 {
				return nil
			}
			materials, err := tx.ListMaterials(ctx)
			if err != nil {
				return fmt.Errorf("backfill: list materials: %w", err)
			}
			resolver := orders.NewResolver(materials)

			byOrder := make(map[uuid.UUID][]orders.Deduction)
			var orderIDs []uuid.UUID
			for _, d := range pending {
				if _, seen := byOrder[d.OrderID]; !seen {
					orderIDs = append(orderIDs, d.OrderID)
				}
				byOrder[d.OrderID] = append(byOrder[d.OrderID], d)
			}
			for _, id := range orderIDs {
				order, err := tx.GetOrderForUpdate(ctx, id)
				if err != nil {
					return fmt.Errorf("backfill: load order %s: %w", id, err)
				}
				result.Orders++
				for _, d := range byOrder[id] {
					line, err := s.bridge.Backfill(ctx, tx, resolver, order, &d, s.cfg.AdjustStockOnSync)
					if err != nil {
						return err
					}
					result.Lines = append(result.Lines, line)
					if line.Action != orders.ActionApplied {
						result.Unresolved++
						continue
					}
					result.Applied++
					if err := tx.UpdateDeduction(ctx, d); err != nil {
						return fmt.Errorf("backfill: mark deduction synced: %w", err)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return SyncResult{}, err
	}
	s.logger.Info("order ledger sync finished",
		slog.Int("orders", result.Orders),
		slog.Int("applied", result.Applied),
		slog.Int("unresolved", result.Unresolved))
	s.finish(ctx, actor, "ledger:sync-orders", map[string]any{"applied": result.Applied, "unresolved": result.Unresolved}, result.Applied > 0)
	return result, nil
}

// Drift is one material whose cached stock disagrees with the ledger.
type Drift struct {
	MaterialID uuid.UUID       `json:"material_id"`
	Name       string          `json:"name"`
	Cached     decimal.Decimal `json:"cached"`
	Derived    decimal.Decimal `json:"derived"`
	Difference decimal.Decimal `json:"difference"`
}

// RecomputeResult summarises a stock recompute.
type RecomputeResult struct {
	Mode      Mode             `json:"mode"`
	Checked   int              `json:"checked"`
	Drifts    []Drift          `json:"drifts"`
	Anomalies []ledger.Anomaly `json:"anomalies"`
}

// RecomputeStock compares every material's current_stock with the
// ledger-derived balance. ModeApply rewrites drifted caches.
func (s *Service) RecomputeStock(ctx context.Context, mode Mode, actor string) (RecomputeResult, error) {
	result := RecomputeResult{Mode: mode, Drifts: []Drift{}}
	err := s.locked(ctx, shared.LockLedgerRecompute, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
			materials, err := tx.ListMaterials(ctx)
			if err != nil {
				return fmt.Errorf("backfill: list materials: %w", err)
			}
			history, err := tx.ListTransactions(ctx, ledger.TransactionFilter{})
			if err != nil {
				return fmt.Errorf("backfill: list transactions: %w", err)
			}
			byMaterial := make(map[uuid.UUID][]ledger.Transaction, len(materials))
			for _, t := range history {
				byMaterial[t.MaterialID] = append(byMaterial[t.MaterialID], t)
				if t.Direction() == ledger.Unclassified {
					result.Anomalies = append(result.Anomalies, ledger.Anomaly{TransactionID: t.ID, MaterialID: t.MaterialID, Type: t.Type})
				}
			}
			for _, m := range materials {
				result.Checked++
				derived := ledger.DerivedStock(m, byMaterial[m.ID])
				if derived.Equal(m.CurrentStock) {
					continue
				}
				result.Drifts = append(result.Drifts, Drift{
					MaterialID: m.ID,
					Name:       m.Name,
					Cached:     m.CurrentStock,
					Derived:    derived,
					Difference: derived.Sub(m.CurrentStock),
				})
				if mode != ModeApply {
					continue
				}
				if err := tx.SetCurrentStock(ctx, m.ID, derived); err != nil {
					return fmt.Errorf("backfill: set stock for %s: %w", m.Name, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return RecomputeResult{}, err
	}
	if s.drift != nil {
		s.drift.AddDrift(string(mode), len(result.Drifts))
	}
	for _, d := range result.Drifts {
		s.logger.Warn("stock drift",
			slog.String("material", d.Name),
			slog.String("cached", d.Cached.String()),
			slog.String("derived", d.Derived.String()),
			slog.String("mode", string(mode)))
	}
	if mode == ModeApply {
		s.finish(ctx, actor, "ledger:recompute", map[string]any{"corrected": len(result.Drifts)}, len(result.Drifts) > 0)
	}
	return result, nil
}

// NormalizeResult summarises a type vocabulary migration.
type NormalizeResult struct {
	Mode Mode `json:"mode"`
	// Rewritten counts rows per legacy type value.
	Rewritten    map[string]int   `json:"rewritten"`
	Unclassified []ledger.Anomaly `json:"unclassified"`
}

// NormalizeTypes rewrites legacy type synonyms to the canonical in/out
// values. Rows whose type cannot be classified are reported and left alone.
func (s *Service) NormalizeTypes(ctx context.Context, mode Mode, actor string) (NormalizeResult, error) {
	result := NormalizeResult{Mode: mode, Rewritten: map[string]int{}, Unclassified: []ledger.Anomaly{}}
	err := s.locked(ctx, shared.LockLedgerNormalize, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
			history, err := tx.ListTransactions(ctx, ledger.TransactionFilter{})
			if err != nil {
				return fmt.Errorf("backfill: list transactions: %w", err)
			}
			for _, t := range history {
				dir := t.Direction()
				if dir == ledger.Unclassified {
					result.Unclassified = append(result.Unclassified, ledger.Anomaly{TransactionID: t.ID, MaterialID: t.MaterialID, Type: t.Type})
					continue
				}
				canonical := ledger.CanonicalType(dir)
				if t.Type == canonical {
					continue
				}
				result.Rewritten[t.Type]++
				if mode != ModeApply {
					continue
				}
				t.Type = canonical
				if err := tx.UpdateTransaction(ctx, t); err != nil {
					return fmt.Errorf("backfill: rewrite type of %s: %w", t.ID, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return NormalizeResult{}, err
	}
	for _, a := range result.Unclassified {
		s.logger.Warn("unclassified transaction type left untouched",
			slog.String("transaction_id", a.TransactionID.String()),
			slog.String("type", a.Type))
	}
	if mode == ModeApply {
		total := 0
		for _, n := range result.Rewritten {
			total += n
		}
		s.finish(ctx, actor, "ledger:normalize-types", map[string]any{"rewritten": total}, total > 0)
	}
	return result, nil
}

// RewrittenTypes lists the legacy values seen, sorted.
func (r NormalizeResult) RewrittenTypes() []string {
	out := make([]string, 0, len(r.Rewritten))
	for k := range r.Rewritten {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Service) locked(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, key, fn)
}

func (s *Service) finish(ctx context.Context, actor, action string, meta map[string]any, changed bool) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   action,
			Entity:   "ledger",
			EntityID: "stock_transactions",
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if changed && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
}
