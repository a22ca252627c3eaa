// Package signature verifies HMAC-SHA256 webhook signatures carried in a
// provider-specific header. Verification never panics or returns an error;
// callers branch on core.Verification.
package signature
