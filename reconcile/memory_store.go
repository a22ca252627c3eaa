package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

// MemoryWatermarkStore keeps watermarks in process memory.
type MemoryWatermarkStore struct {
	mu    sync.RWMutex
	items map[string]core.Watermark
	now   func() time.Time
}

func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{
		items: map[string]core.Watermark{},
		now:   time.Now,
	}
}

func (s *MemoryWatermarkStore) GetWatermark(_ context.Context, integrationID string, tenantID string) (core.Watermark, bool, error) {
	if s == nil {
		return core.Watermark{}, false, fmt.Errorf("reconcile: watermark store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	watermark, ok := s.items[core.WatermarkKey(integrationID, tenantID)]
	return watermark, ok, nil
}

func (s *MemoryWatermarkStore) SetWatermark(_ context.Context, in core.SetWatermarkInput) (core.Watermark, error) {
	if s == nil {
		return core.Watermark{}, fmt.Errorf("reconcile: watermark store is nil")
	}
	in.IntegrationID = strings.TrimSpace(in.IntegrationID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.IntegrationID == "" || strings.TrimSpace(in.Notified) == "" {
		return core.Watermark{}, core.NewKindError(core.KindBadInput, "integration id and cursor are required", nil)
	}
	updatedAt := in.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.WatermarkKey(in.IntegrationID, in.TenantID)
	current := s.items[key]
	current.IntegrationID = in.IntegrationID
	current.TenantID = in.TenantID
	current.Notified = in.Notified
	if in.Reconciled != "" {
		current.Reconciled = in.Reconciled
	}
	current.UpdatedAt = updatedAt.UTC()
	s.items[key] = current
	return current, nil
}

// ListWatermarks returns the integration's watermarks ordered by tenant.
func (s *MemoryWatermarkStore) ListWatermarks(_ context.Context, integrationID string) ([]core.Watermark, error) {
	if s == nil {
		return nil, fmt.Errorf("reconcile: watermark store is nil")
	}
	integrationID = strings.TrimSpace(integrationID)
	s.mu.RLock()
	out := make([]core.Watermark, 0, len(s.items))
	for _, watermark := range s.items {
		if watermark.IntegrationID == integrationID {
			out = append(out, watermark)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// DeleteWatermark forgets a tenant so its next notification is a baseline.
func (s *MemoryWatermarkStore) DeleteWatermark(_ context.Context, integrationID string, tenantID string) error {
	if s == nil {
		return fmt.Errorf("reconcile: watermark store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, core.WatermarkKey(integrationID, tenantID))
	return nil
}

var (
	_ core.WatermarkStore = (*MemoryWatermarkStore)(nil)
	_ core.WatermarkAdmin = (*MemoryWatermarkStore)(nil)
)
