// Package draws stores historical lottery draws and serves the windowed
// fetch used by prediction executions. Stores are available in memory and
// over MySQL or SQLite, plus a deterministic synthetic generator for demos
// and tests.
package draws
