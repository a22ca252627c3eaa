package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhooks/core"
)

// WatermarkStore persists one watermark row per integration and tenant.
type WatermarkStore struct {
	db   *bun.DB
	repo repository.Repository[*watermarkRecord]
	now  func() time.Time
}

func NewWatermarkStore(db *bun.DB) (*WatermarkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*watermarkRecord](db, watermarkHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid watermark repository wiring: %w", err)
		}
	}
	return &WatermarkStore{
		db:   db,
		repo: repo,
		now:  time.Now,
	}, nil
}

func (s *WatermarkStore) GetWatermark(
	ctx context.Context,
	integrationID string,
	tenantID string,
) (core.Watermark, bool, error) {
	if s == nil || s.db == nil {
		return core.Watermark{}, false, fmt.Errorf("sqlstore: watermark store is not configured")
	}
	integrationID = strings.TrimSpace(integrationID)
	tenantID = strings.TrimSpace(tenantID)
	if integrationID == "" {
		return core.Watermark{}, false, fmt.Errorf("sqlstore: integration id is required")
	}

	record, err := findWatermark(ctx, s.db, integrationID, tenantID)
	if err != nil {
		return core.Watermark{}, false, err
	}
	if record == nil {
		return core.Watermark{}, false, nil
	}
	return record.toDomain(), true, nil
}

func (s *WatermarkStore) SetWatermark(ctx context.Context, in core.SetWatermarkInput) (core.Watermark, error) {
	if s == nil || s.db == nil {
		return core.Watermark{}, fmt.Errorf("sqlstore: watermark store is not configured")
	}
	in.IntegrationID = strings.TrimSpace(in.IntegrationID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Notified = strings.TrimSpace(in.Notified)
	in.Reconciled = strings.TrimSpace(in.Reconciled)
	if in.IntegrationID == "" {
		return core.Watermark{}, fmt.Errorf("sqlstore: integration id is required")
	}
	if in.Notified == "" {
		return core.Watermark{}, fmt.Errorf("sqlstore: notified cursor is required")
	}
	now := in.UpdatedAt.UTC()
	if in.UpdatedAt.IsZero() {
		now = s.now().UTC()
	}

	var out core.Watermark
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findWatermark(ctx, tx, in.IntegrationID, in.TenantID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &watermarkRecord{
				ID:               uuid.NewString(),
				IntegrationID:    in.IntegrationID,
				TenantID:         in.TenantID,
				NotifiedCursor:   in.Notified,
				ReconciledCursor: in.Reconciled,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			if insertErr == nil {
				out = record.toDomain()
				return nil
			}
			if !isUniqueViolation(insertErr) {
				return insertErr
			}
			record, err = findWatermark(ctx, tx, in.IntegrationID, in.TenantID)
			if err != nil {
				return err
			}
			if record == nil {
				return insertErr
			}
		}

		record.NotifiedCursor = in.Notified
		if in.Reconciled != "" {
			record.ReconciledCursor = in.Reconciled
		}
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Watermark{}, err
	}
	return out, nil
}

// ListWatermarks returns every tenant watermark recorded for an integration.
func (s *WatermarkStore) ListWatermarks(ctx context.Context, integrationID string) ([]core.Watermark, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: watermark store is not configured")
	}
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return nil, fmt.Errorf("sqlstore: integration id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("integration_id", "=", integrationID),
		repository.OrderBy("tenant_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Watermark, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// DeleteWatermark forgets a tenant watermark so the next notification is
// treated as a baseline.
func (s *WatermarkStore) DeleteWatermark(ctx context.Context, integrationID string, tenantID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: watermark store is not configured")
	}
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return fmt.Errorf("sqlstore: integration id is required")
	}
	_, err := s.db.NewDelete().
		Model((*watermarkRecord)(nil)).
		Where("integration_id = ?", integrationID).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Exec(ctx)
	return err
}

func findWatermark(ctx context.Context, db bun.IDB, integrationID string, tenantID string) (*watermarkRecord, error) {
	record := &watermarkRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.integration_id = ?", integrationID).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
