// Package sqldb opens the relational databases used by DrawSight and applies
// the embedded schema migrations. Both MySQL and SQLite are supported; the
// statements in deploy/migrations are written in the subset both accept.
package sqldb
