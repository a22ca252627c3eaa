package query

import (
	"context"

	"github.com/goliatone/go-webhooks/core"
)

type WatermarkReader interface {
	GetWatermark(ctx context.Context, integrationID string, tenantID string) (core.Watermark, bool, error)
}

type WatermarkLister interface {
	ListWatermarks(ctx context.Context, integrationID string) ([]core.Watermark, error)
}

type GetWatermarkQuery struct {
	reader WatermarkReader
}

func NewGetWatermarkQuery(reader WatermarkReader) *GetWatermarkQuery {
	return &GetWatermarkQuery{reader: reader}
}

// Query returns a not-found error for tenants that were never notified.
func (q *GetWatermarkQuery) Query(ctx context.Context, msg GetWatermarkMessage) (core.Watermark, error) {
	if q == nil || q.reader == nil {
		return core.Watermark{}, queryDependencyError("query: watermark reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Watermark{}, err
	}
	watermark, found, err := q.reader.GetWatermark(ctx, msg.IntegrationID, msg.TenantID)
	if err != nil {
		return core.Watermark{}, err
	}
	if !found {
		return core.Watermark{}, queryNotFoundError(msg.IntegrationID, msg.TenantID)
	}
	return watermark, nil
}

type ListWatermarksQuery struct {
	lister WatermarkLister
}

func NewListWatermarksQuery(lister WatermarkLister) *ListWatermarksQuery {
	return &ListWatermarksQuery{lister: lister}
}

func (q *ListWatermarksQuery) Query(ctx context.Context, msg ListWatermarksMessage) ([]core.Watermark, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: watermark lister is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.lister.ListWatermarks(ctx, msg.IntegrationID)
}
