package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhooks/core"
)

type watermarkRecord struct {
	bun.BaseModel `bun:"table:webhook_watermarks,alias:ww"`

	ID               string    `bun:"id,pk"`
	IntegrationID    string    `bun:"integration_id,notnull"`
	TenantID         string    `bun:"tenant_id,notnull"`
	NotifiedCursor   string    `bun:"notified_cursor,notnull"`
	ReconciledCursor string    `bun:"reconciled_cursor,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

func (r *watermarkRecord) toDomain() core.Watermark {
	if r == nil {
		return core.Watermark{}
	}
	return core.Watermark{
		IntegrationID: r.IntegrationID,
		TenantID:      r.TenantID,
		Notified:      r.NotifiedCursor,
		Reconciled:    r.ReconciledCursor,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}
