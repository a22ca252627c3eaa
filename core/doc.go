// Package core contains the webhook engine domain contracts: envelopes,
// domain events, integration contracts, collaborator interfaces and the
// error taxonomy. Router, verifier, dispatcher and reconciler packages depend
// on core; core must not depend on them or on provider adapters.
package core
