package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
}

// Service coordinates order writes and keeps deductions mirrored in the ledger.
type Service struct {
	repo   RepositoryPort
	bridge *Bridge
	audit  ledger.AuditPort
	cache  ledger.CacheInvalidator
	logger *slog.Logger
	cfg    ServiceConfig
}

// ServiceConfig tunes order writes.
type ServiceConfig struct {
	// SyncAdjustsStock mirrors the backfill policy for deductions recorded
	// before the ledger existed: when false their quantity is assumed to be
	// reflected in current_stock already, so linking them writes the ledger
	// row only.
	SyncAdjustsStock bool
}

// NewService builds Service. audit and cache may be nil.
func NewService(repo RepositoryPort, bridge *Bridge, audit ledger.AuditPort, cache ledger.CacheInvalidator, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if bridge == nil {
		bridge = NewBridge(logger, nil)
	}
	return &Service{repo: repo, bridge: bridge, audit: audit, cache: cache, logger: logger, cfg: cfg}
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns order headers matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	if err := (ledger.Window{Start: filter.From, End: filter.To}).Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListOrders(ctx, filter)
}

// Create writes a pending order and applies every valid deduction line to
// stock, one ledger entry per line.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (Result, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Result{}, err
	}
	order := Order{
		ID:          uuid.New(),
		OrderNumber: strings.TrimSpace(input.OrderNumber),
		PartyID:     input.PartyID,
		OrderDate:   ledger.DateOf(input.OrderDate),
		Status:      StatusPending,
		Remarks:     input.Remarks,
	}
	order.Items = buildItems(order.ID, input.Items)

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if order.OrderNumber == "" {
			number, err := nextOrderNumber(ctx, tx, order.PartyID)
			if err != nil {
				return err
			}
			order.OrderNumber = number
		}
		resolver, err := s.resolver(ctx, tx)
		if err != nil {
			return err
		}
		deductions := make([]Deduction, 0, len(input.Deductions))
		for _, in := range input.Deductions {
			if !in.valid() {
				continue
			}
			deductions = append(deductions, newDeduction(order.ID, in))
		}
		order.Deductions = deductions
		computeTotals(&order)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, order.ID, order.Items); err != nil {
			return err
		}
		for i := range order.Deductions {
			line, err := s.bridge.Apply(ctx, tx, resolver, order, &order.Deductions[i])
			if err != nil {
				return err
			}
			result.Lines = append(result.Lines, line)
			if err := tx.InsertDeduction(ctx, order.Deductions[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	result.Order = order
	s.after(ctx, input.ActorID, "orders:create", order, result)
	return result, nil
}

// Update replaces items and reconciles deduction lines against the stored
// order. Removed lines are restored to stock before their rows are deleted,
// new lines are applied, and a material, quantity or order date change on an
// existing line is treated as restore-old plus apply-new, so linked entries
// always sit at the order's current date. Kept lines that never reached the
// ledger are linked first under the sync policy.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateOrderInput) (Result, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Result{}, err
	}
	var (
		result Result
		order  Order
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		resolver, err := s.resolver(ctx, tx)
		if err != nil {
			return err
		}

		existing := make(map[uuid.UUID]Deduction, len(current.Deductions))
		for _, d := range current.Deductions {
			existing[d.ID] = d
		}
		kept := make(map[uuid.UUID]bool, len(input.Deductions))

		order = current
		order.PartyID = input.PartyID
		order.OrderDate = ledger.DateOf(input.OrderDate)
		order.Remarks = input.Remarks
		order.Items = buildItems(order.ID, input.Items)
		order.Deductions = nil
		dateChanged := !order.OrderDate.Equal(current.OrderDate)

		// Restorations are dated and tagged with the order as it was stored.
		for _, d := range current.Deductions {
			if input.keeps(d.ID) {
				continue
			}
			line, err := s.bridge.Restore(ctx, tx, resolver, current, d)
			if err != nil {
				return err
			}
			result.Lines = append(result.Lines, line)
			if err := tx.DeleteDeduction(ctx, d.ID); err != nil {
				return err
			}
		}

		for _, in := range input.Deductions {
			old, isExisting := existing[idOf(in.ID)]
			if isExisting && kept[old.ID] {
				isExisting = false
			}
			if !in.valid() {
				if isExisting {
					kept[old.ID] = true
					line, err := s.bridge.Restore(ctx, tx, resolver, current, old)
					if err != nil {
						return err
					}
					result.Lines = append(result.Lines, line)
					if err := tx.DeleteDeduction(ctx, old.ID); err != nil {
						return err
					}
				}
				continue
			}
			if !isExisting {
				d := newDeduction(order.ID, in)
				line, err := s.bridge.Apply(ctx, tx, resolver, order, &d)
				if err != nil {
					return err
				}
				result.Lines = append(result.Lines, line)
				if err := tx.InsertDeduction(ctx, d); err != nil {
					return err
				}
				order.Deductions = append(order.Deductions, d)
				continue
			}

			kept[old.ID] = true
			if !old.LedgerSynced {
				line, err := s.bridge.Backfill(ctx, tx, resolver, current, &old, s.cfg.SyncAdjustsStock)
				if err != nil {
					return err
				}
				if line.Action == ActionApplied {
					result.Lines = append(result.Lines, line)
				}
			}
			d := old
			d.MaterialID = in.MaterialID
			d.MaterialName = strings.TrimSpace(in.MaterialName)
			d.Quantity = in.Quantity
			d.Rate = in.Rate
			d.Amount = in.Quantity.Mul(in.Rate)
			if stockChanged(resolver, old, d) || (old.LedgerSynced && dateChanged) {
				restore, err := s.bridge.Restore(ctx, tx, resolver, current, old)
				if err != nil {
					return err
				}
				if restore.Action != ActionSkipped {
					result.Lines = append(result.Lines, restore)
				}
				apply, err := s.bridge.Apply(ctx, tx, resolver, order, &d)
				if err != nil {
					return err
				}
				result.Lines = append(result.Lines, apply)
			} else {
				if d.MaterialID == nil {
					d.MaterialID = old.MaterialID
				}
				if d.MaterialName == "" {
					d.MaterialName = old.MaterialName
				}
				if !d.LedgerSynced {
					result.Lines = append(result.Lines, LineResult{DeductionID: d.ID, MaterialName: d.MaterialName, Action: ActionUnresolved})
				}
			}
			if err := tx.UpdateDeduction(ctx, d); err != nil {
				return err
			}
			order.Deductions = append(order.Deductions, d)
		}

		computeTotals(&order)
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return tx.ReplaceItems(ctx, order.ID, order.Items)
	})
	if err != nil {
		return Result{}, err
	}
	result.Order = order
	s.after(ctx, input.ActorID, "orders:update", order, result)
	return result, nil
}

// Delete restores every synced deduction and then removes the order; items
// and deductions go with it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		result.Order = current
		resolver, err := s.resolver(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range current.Deductions {
			line, err := s.bridge.Restore(ctx, tx, resolver, current, d)
			if err != nil {
				return err
			}
			result.Lines = append(result.Lines, line)
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return Result{}, err
	}
	s.after(ctx, actor, "orders:delete", result.Order, result)
	return result, nil
}

// SetStatus moves an order between pending and completed.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, input StatusInput) (Order, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Order{}, err
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		order = current
		if current.Status == input.Status {
			return nil
		}
		order.Status = input.Status
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "orders:status",
			Entity:   "order",
			EntityID: order.ID.String(),
			Meta:     map[string]any{"status": string(order.Status)},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	return order, nil
}

func (s *Service) resolver(ctx context.Context, tx TxRepository) (*Resolver, error) {
	materials, err := tx.ListMaterials(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders: load materials: %w", err)
	}
	return NewResolver(materials), nil
}

func (s *Service) after(ctx context.Context, actor, action string, o Order, result Result) {
	unresolved := result.Unresolved()
	if len(unresolved) > 0 {
		names := make([]string, 0, len(unresolved))
		for _, l := range unresolved {
			names = append(names, l.MaterialName)
		}
		s.logger.Warn("order saved with unresolved deductions",
			slog.String("order", o.OrderNumber),
			slog.String("materials", strings.Join(names, ", ")))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   action,
			Entity:   "order",
			EntityID: o.ID.String(),
			Meta: map[string]any{
				"order_number": o.OrderNumber,
				"ledger_lines": len(result.Lines),
				"unresolved":   len(unresolved),
			},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil && len(result.Lines) > 0 {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
}

func nextOrderNumber(ctx context.Context, tx TxRepository, partyID *uuid.UUID) (string, error) {
	if partyID == nil {
		return "", shared.NewValidationError("order_number", "is required when no party is given")
	}
	prefix, seq, err := tx.NextOrderSeq(ctx, *partyID)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return "", shared.NewValidationError("order_number", "is required when the party has no order prefix")
	}
	return prefix + "/" + strconv.FormatInt(seq, 10), nil
}

func buildItems(orderID uuid.UUID, inputs []ItemInput) []Item {
	items := make([]Item, 0, len(inputs))
	for i, in := range inputs {
		items = append(items, Item{
			ID:           uuid.New(),
			OrderID:      orderID,
			SerialNo:     i + 1,
			Particular:   strings.TrimSpace(in.Particular),
			Quantity:     in.Quantity,
			QuantityUnit: in.QuantityUnit,
			Rate:         in.Rate,
			Total:        in.Quantity.Mul(in.Rate),
		})
	}
	return items
}

func newDeduction(orderID uuid.UUID, in DeductionInput) Deduction {
	return Deduction{
		ID:           uuid.New(),
		OrderID:      orderID,
		MaterialID:   in.MaterialID,
		MaterialName: strings.TrimSpace(in.MaterialName),
		Quantity:     in.Quantity,
		Rate:         in.Rate,
		Amount:       in.Quantity.Mul(in.Rate),
	}
}

func computeTotals(o *Order) {
	o.Subtotal = decimal.Zero
	for _, it := range o.Items {
		o.Subtotal = o.Subtotal.Add(it.Total)
	}
	o.DeductionTotal = decimal.Zero
	for _, d := range o.Deductions {
		o.DeductionTotal = o.DeductionTotal.Add(d.Amount)
	}
	o.NetTotal = o.Subtotal.Sub(o.DeductionTotal)
}

// stockChanged reports whether editing old into next moves stock: a different
// resolved material or a different quantity.
func stockChanged(res *Resolver, old, next Deduction) bool {
	if !old.Quantity.Equal(next.Quantity) {
		return true
	}
	before, okBefore := res.Resolve(old.MaterialID, old.MaterialName)
	after, okAfter := res.Resolve(next.MaterialID, next.MaterialName)
	if okBefore != okAfter {
		return true
	}
	return okBefore && before.ID != after.ID
}

func (in UpdateOrderInput) keeps(id uuid.UUID) bool {
	for _, d := range in.Deductions {
		if d.ID != nil && *d.ID == id {
			return true
		}
	}
	return false
}

func idOf(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func nullable(d decimal.Decimal) decimal.NullDecimal {
	if d.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
