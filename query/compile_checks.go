package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-webhooks/core"
)

var (
	_ gocmd.Querier[GetWatermarkMessage, core.Watermark]     = (*GetWatermarkQuery)(nil)
	_ gocmd.Querier[ListWatermarksMessage, []core.Watermark] = (*ListWatermarksQuery)(nil)
)
