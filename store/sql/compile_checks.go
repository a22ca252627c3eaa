package sqlstore

import "github.com/goliatone/go-webhooks/core"

var (
	_ core.WatermarkStore = (*WatermarkStore)(nil)
	_ core.WatermarkAdmin = (*WatermarkStore)(nil)
)
