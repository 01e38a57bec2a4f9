// Package providers holds the plumbing shared by the built-in provider
// adapters: the OAuth client, the JSON API client, cursor pagination, and
// property normalization helpers. Each adapter lives in its own subpackage.
package providers
