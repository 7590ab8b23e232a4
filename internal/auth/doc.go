// Package auth guards the REST API with static API keys. Each key maps to a
// subject carrying a permission set; the middleware authenticates the request,
// checks the permissions a route requires and writes an audit record.
package auth
