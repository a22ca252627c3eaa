// Package events provides the per-integration event dispatcher. Handlers for
// one event name run sequentially in registration order; a failing handler is
// logged and counted but never stops the handlers after it.
package events
