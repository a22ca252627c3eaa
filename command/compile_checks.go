package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReconcileMessage]      = (*ReconcileCommand)(nil)
	_ gocmd.Commander[RouteMessage]          = (*RouteCommand)(nil)
	_ gocmd.Commander[ResetWatermarkMessage] = (*ResetWatermarkCommand)(nil)
)
