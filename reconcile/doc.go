// Package reconcile turns cursor-bearing provider notifications into ordered
// domain events and a watermark advance.
//
// A reconciliation is serialized per (integration, tenant). The coarse change
// event and the watermark advance happen on every notification, whether or
// not the delta fetch succeeded.
package reconcile
