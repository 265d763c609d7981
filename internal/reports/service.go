package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stockbook/stockbook/internal/ledger"
)

// Repository is the read side the views are built from.
type Repository interface {
	ListMaterials(ctx context.Context) ([]ledger.Material, error)
	ListParties(ctx context.Context) ([]ledger.Party, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error)
}

// AnomalyRecorder counts ledger rows a view refused to classify.
type AnomalyRecorder interface {
	RecordUnclassified(view string, count int)
}

// Service builds report views on top of the reconciliation engine.
type Service struct {
	repo    Repository
	cache   *Cache
	metrics AnomalyRecorder
	logger  *slog.Logger
	group   singleflight.Group
}

// NewService wires a Repository with a Cache helper. cache and metrics may be nil.
func NewService(repo Repository, cache *Cache, metrics AnomalyRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, metrics: metrics, logger: logger}
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

// Materials returns the material-wise summary. Every material in scope gets a
// row, including those without activity in the window.
func (s *Service) Materials(ctx context.Context, f Filter) (MaterialReport, error) {
	var out MaterialReport
	err := s.cached(ctx, "materials", f, &out, func(ctx context.Context) (any, error) {
		data, err := s.load(ctx, f, ledger.TransactionFilter{MaterialID: f.MaterialID})
		if err != nil {
			return nil, err
		}
		res := data.reconcile(f)
		s.flag("materials", res.Anomalies)
		report := MaterialReport{From: f.From, To: f.To, Rows: []MaterialRow{}, Unclassified: len(res.Anomalies)}
		for _, ml := range res.Ledgers {
			report.Rows = append(report.Rows, data.materialRow(ml))
		}
		return report, nil
	})
	return out, err
}

// Ledger returns the detailed ledger: per material, the window summary and
// every in-window entry with its recomputed running balance.
func (s *Service) Ledger(ctx context.Context, f Filter) (LedgerReport, error) {
	var out LedgerReport
	err := s.cached(ctx, "ledger", f, &out, func(ctx context.Context) (any, error) {
		data, err := s.load(ctx, f, ledger.TransactionFilter{MaterialID: f.MaterialID})
		if err != nil {
			return nil, err
		}
		res := data.reconcile(f)
		s.flag("ledger", res.Anomalies)
		report := LedgerReport{From: f.From, To: f.To, Sections: []LedgerSection{}, Unclassified: len(res.Anomalies)}
		for _, ml := range res.Ledgers {
			section := LedgerSection{Summary: data.materialRow(ml), Lines: []Line{}}
			for _, e := range ml.Entries {
				line := data.line(e.Transaction)
				line.Balance = decimal.NewNullDecimal(e.Balance)
				section.Lines = append(section.Lines, line)
			}
			report.Sections = append(report.Sections, section)
		}
		return report, nil
	})
	return out, err
}

// Parties returns received/used/balance per (party, material). Entries
// without a party are not part of this view.
func (s *Service) Parties(ctx context.Context, f Filter) (PartyReport, error) {
	var out PartyReport
	err := s.cached(ctx, "parties", f, &out, func(ctx context.Context) (any, error) {
		data, err := s.load(ctx, f, ledger.TransactionFilter{PartyID: f.PartyID, From: f.From, To: f.To})
		if err != nil {
			return nil, err
		}
		s.flag("parties", unclassified(data.history, window(f)))
		report := PartyReport{From: f.From, To: f.To, Rows: []PartyRow{}}
		for _, pb := range ledger.PartyBalances(data.history, window(f)) {
			report.Rows = append(report.Rows, PartyRow{
				PartyID:      pb.PartyID,
				PartyName:    data.partyName(&pb.PartyID),
				MaterialID:   pb.MaterialID,
				MaterialName: data.materialName(pb.MaterialID),
				Received:     pb.Received,
				Used:         pb.Used,
				Balance:      pb.Balance,
			})
		}
		return report, nil
	})
	return out, err
}

// Orders lists entries carrying an order number, newest first.
func (s *Service) Orders(ctx context.Context, f Filter) (OrderReport, error) {
	var out OrderReport
	err := s.cached(ctx, "orders", f, &out, func(ctx context.Context) (any, error) {
		data, err := s.load(ctx, f, ledger.TransactionFilter{MaterialID: f.MaterialID, PartyID: f.PartyID, From: f.From, To: f.To})
		if err != nil {
			return nil, err
		}
		report := OrderReport{From: f.From, To: f.To, Lines: []Line{}}
		for _, tx := range ledger.OrderMovements(data.history, window(f)) {
			report.Lines = append(report.Lines, data.line(tx))
		}
		return report, nil
	})
	return out, err
}

func window(f Filter) ledger.Window {
	return ledger.Window{Start: f.From, End: f.To}
}

func (f Filter) key() string {
	parts := []string{uuidToken(f.MaterialID), uuidToken(f.PartyID), dateToken(f.From), dateToken(f.To)}
	return strings.Join(parts, ":")
}

func uuidToken(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func dateToken(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}

// cached serves a view from redis, building it at most once per key across
// concurrent requests. A failing cache degrades to a direct build.
func (s *Service) cached(ctx context.Context, view string, f Filter, dest any, build func(context.Context) (any, error)) error {
	if err := window(f).Validate(); err != nil {
		return err
	}
	key, err := s.cache.BuildKey(ctx, view, f.key())
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.String("view", view), slog.Any("error", err))
		key = "reports:" + view + ":" + f.key()
	}
	var buildErr error
	loader := func(ctx context.Context) (any, error) {
		v, err, _ := s.group.Do(key, func() (any, error) { return build(ctx) })
		buildErr = err
		return v, err
	}
	err = s.cache.FetchJSON(ctx, key, dest, loader)
	if err == nil || buildErr != nil {
		return err
	}
	s.logger.Warn("report cache unavailable", slog.String("view", view), slog.Any("error", err))
	var direct *Cache
	return direct.FetchJSON(ctx, key, dest, loader)
}

// dataset is everything one view build needs.
type dataset struct {
	materials []ledger.Material
	parties   map[uuid.UUID]ledger.Party
	byID      map[uuid.UUID]ledger.Material
	history   []ledger.Transaction
}

func (s *Service) load(ctx context.Context, f Filter, tf ledger.TransactionFilter) (*dataset, error) {
	var (
		materials []ledger.Material
		parties   []ledger.Party
		history   []ledger.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		materials, err = s.repo.ListMaterials(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		parties, err = s.repo.ListParties(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.repo.ListTransactions(gctx, tf)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reports: load: %w", err)
	}

	d := &dataset{
		parties: make(map[uuid.UUID]ledger.Party, len(parties)),
		byID:    make(map[uuid.UUID]ledger.Material, len(materials)),
		history: history,
	}
	for _, p := range parties {
		d.parties[p.ID] = p
	}
	for _, m := range materials {
		d.byID[m.ID] = m
		if f.MaterialID == nil || m.ID == *f.MaterialID {
			d.materials = append(d.materials, m)
		}
	}
	return d, nil
}

func (d *dataset) reconcile(f Filter) ledger.Result {
	return ledger.Reconcile(d.materials, d.history, window(f))
}

func (d *dataset) materialName(id uuid.UUID) string {
	if m, ok := d.byID[id]; ok {
		return m.Name
	}
	return UnknownName
}

func (d *dataset) partyName(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	if p, ok := d.parties[*id]; ok {
		return p.Name
	}
	return UnknownName
}

func (d *dataset) materialRow(ml ledger.MaterialLedger) MaterialRow {
	row := MaterialRow{
		MaterialID: ml.Summary.MaterialID,
		Name:       ml.Material.Name,
		Unit:       ml.Material.Unit,
		Opening:    ml.Summary.Opening,
		TotalIn:    ml.Summary.TotalIn,
		TotalOut:   ml.Summary.TotalOut,
		Closing:    ml.Summary.Closing,
	}
	if ml.Orphan {
		row.Name = UnknownName
	}
	return row
}

func (d *dataset) line(tx ledger.Transaction) Line {
	line := Line{
		TransactionID: tx.ID,
		Date:          tx.TransactionDate,
		MaterialID:    tx.MaterialID,
		MaterialName:  d.materialName(tx.MaterialID),
		Direction:     tx.Direction().String(),
		PartyName:     d.partyName(tx.PartyID),
		OrderID:       tx.OrderID,
		OrderNumber:   tx.OrderNumber,
		In:            decimal.Zero,
		Out:           decimal.Zero,
		Remarks:       tx.Remarks,
	}
	switch tx.Direction() {
	case ledger.Increase:
		line.In = tx.Quantity
		line.Tag = string(tx.SourceType)
	case ledger.Decrease:
		line.Out = tx.Quantity
		line.Tag = string(tx.ReasonType)
	default:
		line.Tag = tx.Type
	}
	return line
}

func unclassified(history []ledger.Transaction, w ledger.Window) []ledger.Anomaly {
	var out []ledger.Anomaly
	for _, tx := range history {
		if w.Contains(tx.TransactionDate) && tx.Direction() == ledger.Unclassified {
			out = append(out, ledger.Anomaly{TransactionID: tx.ID, MaterialID: tx.MaterialID, Type: tx.Type})
		}
	}
	return out
}

func (s *Service) flag(view string, anomalies []ledger.Anomaly) {
	if len(anomalies) == 0 {
		return
	}
	for _, a := range anomalies {
		s.logger.Warn("unclassified transaction type excluded from totals",
			slog.String("view", view),
			slog.String("transaction_id", a.TransactionID.String()),
			slog.String("type", a.Type))
	}
	if s.metrics != nil {
		s.metrics.RecordUnclassified(view, len(anomalies))
	}
}
