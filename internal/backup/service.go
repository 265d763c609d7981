package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/shared"
)

// Store reads and replaces the dataset.
type Store interface {
	Dump(ctx context.Context) (Document, error)
	Replace(ctx context.Context, doc Document) error
}

// Locker serialises restores across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Service exports, validates and restores backups.
type Service struct {
	store  Store
	locker Locker
	audit  ledger.AuditPort
	cache  ledger.CacheInvalidator
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. locker, audit and cache may be nil.
func NewService(store Store, locker Locker, audit ledger.AuditPort, cache ledger.CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		locker: locker,
		audit:  audit,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Export returns the whole dataset as a versioned document.
func (s *Service) Export(ctx context.Context) (Document, error) {
	doc, err := s.store.Dump(ctx)
	if err != nil {
		return Document{}, err
	}
	doc.Version = FormatVersion
	doc.ExportedAt = s.now()
	s.logger.Info("backup exported", slog.Any("counts", doc.Counts()))
	return doc, nil
}

// Validate reports every structural problem of doc without touching data.
func (s *Service) Validate(doc Document) error {
	return Validate(doc)
}

// Restore replaces the dataset with doc. Nothing is deleted unless every
// record of doc passes validation.
func (s *Service) Restore(ctx context.Context, doc Document, actor string) (map[string]int, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	prepare(&doc)
	run := func(ctx context.Context) error {
		if err := s.store.Replace(ctx, doc); err != nil {
			return fmt.Errorf("backup: restore: %w", err)
		}
		return nil
	}
	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.LockBackupRestore, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	counts := doc.Counts()
	s.logger.Info("backup restored", slog.Any("counts", counts), slog.Time("exported_at", doc.ExportedAt))
	if s.audit != nil {
		meta := make(map[string]any, len(counts))
		for k, v := range counts {
			meta[k] = v
		}
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   "backup:restore",
			Entity:   "backup",
			EntityID: doc.ExportedAt.Format(time.RFC3339),
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
	return counts, nil
}
