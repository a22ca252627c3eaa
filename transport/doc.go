// Package transport is the outbound HTTP client provider integrations use to
// page through their change APIs during reconciliation.
package transport
