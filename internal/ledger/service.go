package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMaterials(ctx context.Context) ([]Material, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards retried write requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CacheInvalidator drops derived report data after a ledger write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	// Now overrides the clock used to date movements without an explicit date.
	Now func() time.Time
}

// Service coordinates manual stock movements and ledger edits.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       CacheInvalidator
	logger      *slog.Logger
	allowNeg    bool
	now         func() time.Time
}

// NewService builds Service. audit, idempotency and cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cache CacheInvalidator, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		logger:      logger,
		allowNeg:    cfg.AllowNegativeStock,
		now:         now,
	}
}

// RecordStockIn posts an increase tagged with its source.
func (s *Service) RecordStockIn(ctx context.Context, input StockInInput) (Transaction, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Transaction{}, err
	}
	m := Movement{
		MaterialID: input.MaterialID,
		Direction:  Increase,
		Quantity:   input.Quantity,
		Date:       s.dateOrToday(input.TransactionDate),
		SourceType: input.SourceType,
		PartyID:    input.PartyID,
		Rate:       nullRate(input.Rate),
		Remarks:    input.Remarks,
	}
	return s.post(ctx, m, input.IdempotencyKey, input.ActorID)
}

// RecordStockOut posts a decrease tagged with its reason. It fails with
// ErrInsufficientStock when the material cannot cover the quantity, unless
// negative stock is allowed.
func (s *Service) RecordStockOut(ctx context.Context, input StockOutInput) (Transaction, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Transaction{}, err
	}
	m := Movement{
		MaterialID:       input.MaterialID,
		Direction:        Decrease,
		Quantity:         input.Quantity,
		Date:             s.dateOrToday(input.TransactionDate),
		ReasonType:       input.ReasonType,
		PartyID:          input.PartyID,
		Rate:             nullRate(input.Rate),
		Remarks:          input.Remarks,
		RequireAvailable: !s.allowNeg,
	}
	return s.post(ctx, m, input.IdempotencyKey, input.ActorID)
}

func (s *Service) post(ctx context.Context, m Movement, idemKey, actor string) (Transaction, error) {
	insertedKey := false
	if idemKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "ledger"); err != nil {
			return Transaction{}, err
		}
		insertedKey = true
	}

	var entry Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = Post(ctx, tx, m)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Transaction{}, err
	}

	s.record(ctx, actor, "ledger:"+entry.Type, entry.ID, map[string]any{
		"material_id": entry.MaterialID.String(),
		"quantity":    entry.Quantity.String(),
		"date":        entry.TransactionDate.Format(time.DateOnly),
	})
	s.invalidate(ctx)
	return entry, nil
}

// UpdateTransaction edits quantity, date and remarks of an entry and applies
// the quantity difference to current_stock. Legacy type values are rewritten
// to the canonical vocabulary on the way through. Entries written for an
// order are refused with ErrOrderLinked.
func (s *Service) UpdateTransaction(ctx context.Context, id uuid.UUID, input UpdateTransactionInput) (Transaction, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Transaction{}, err
	}
	var updated Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.OrderID != nil {
			return fmt.Errorf("transaction %s: %w", id, ErrOrderLinked)
		}
		dir := current.Direction()
		if dir == Unclassified {
			return fmt.Errorf("transaction %s type %q: %w", id, current.Type, ErrUnclassifiedType)
		}
		material, err := tx.GetMaterialForUpdate(ctx, current.MaterialID)
		if err != nil {
			return err
		}

		updated = current
		updated.Type = CanonicalType(dir)
		updated.Quantity = input.Quantity
		updated.TransactionDate = DateOf(input.TransactionDate)
		updated.Remarks = input.Remarks

		diff := updated.Delta().Sub(current.Delta())
		if !s.allowNeg && diff.IsNegative() && material.CurrentStock.Add(diff).IsNegative() {
			return fmt.Errorf("%w: %s has %s", ErrInsufficientStock, material.Name, material.CurrentStock)
		}
		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return err
		}
		if diff.IsZero() {
			return nil
		}
		_, err = tx.AdjustStock(ctx, material.ID, diff)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.record(ctx, input.ActorID, "ledger:update", id, map[string]any{
		"quantity": updated.Quantity.String(),
		"date":     updated.TransactionDate.Format(time.DateOnly),
	})
	s.invalidate(ctx)
	return updated, nil
}

// DeleteTransaction removes an entry and reverses its effect on current_stock.
// Entries whose material no longer exists are removed without a stock change.
// Entries written for an order are refused with ErrOrderLinked.
func (s *Service) DeleteTransaction(ctx context.Context, id uuid.UUID, actor string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.OrderID != nil {
			return fmt.Errorf("transaction %s: %w", id, ErrOrderLinked)
		}
		reverse := current.Delta().Neg()
		if current.Direction() == Unclassified {
			s.logger.Warn("deleting unclassified ledger entry", slog.String("transaction_id", id.String()), slog.String("type", current.Type))
		}
		if !reverse.IsZero() {
			material, err := tx.GetMaterialForUpdate(ctx, current.MaterialID)
			switch {
			case errors.Is(err, ErrMaterialNotFound):
				reverse = decimal.Zero
			case err != nil:
				return err
			case !s.allowNeg && reverse.IsNegative() && material.CurrentStock.Add(reverse).IsNegative():
				return fmt.Errorf("%w: %s has %s", ErrInsufficientStock, material.Name, material.CurrentStock)
			}
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		if reverse.IsZero() {
			return nil
		}
		_, err = tx.AdjustStock(ctx, current.MaterialID, reverse)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "ledger:delete", id, nil)
	s.invalidate(ctx)
	return nil
}

// ListTransactions returns entries matching filter, oldest first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if err := (Window{Start: filter.From, End: filter.To}).Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, filter)
}

// Materials lists every material ordered by name.
func (s *Service) Materials(ctx context.Context) ([]Material, error) {
	return s.repo.ListMaterials(ctx)
}

func (s *Service) dateOrToday(d time.Time) time.Time {
	if d.IsZero() {
		return DateOf(s.now())
	}
	return DateOf(d)
}

func (s *Service) record(ctx context.Context, actor, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "stock_transaction",
		EntityID: id.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
	}
}

func nullRate(rate *decimal.Decimal) decimal.NullDecimal {
	if rate == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*rate)
}
