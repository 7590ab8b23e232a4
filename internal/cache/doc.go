// Package cache stores prediction results so that repeated executions with
// identical inputs can be answered without running the plugin again. Entries
// are keyed by plugin, lottery type, parameters and a dataset fingerprint.
package cache
