// Package security provides core.SecretResolver implementations for webhook
// and endpoint credentials: a static table, an app-key sealed variant and a
// read-through cache.
package security
