// Package providers groups the built-in integration contracts. Each
// subpackage exposes New(Config) returning a core.IntegrationContract with its
// own matcher, signature scheme and event dispatcher.
package providers
