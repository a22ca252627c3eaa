// Package inbound holds the integration contract registry and the webhook
// router.
//
// Deliveries that carry an explicit routing token go straight to that
// contract; everything else is matched against every registered contract and
// must be claimed by exactly one.
package inbound
