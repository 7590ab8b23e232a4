// Package app wires configuration into running components. It is shared by
// the daemon and the one-shot CLI commands so both observe the same storage,
// cache and plugin configuration.
package app
