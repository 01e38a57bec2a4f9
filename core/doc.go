// Package core holds the contact sync domain: connections, provider and
// storage contracts, the error taxonomy, configuration, and the connection
// lifecycle service. Provider, storage and queue adapters depend on core;
// core depends on none of them.
package core
