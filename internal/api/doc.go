// Package api exposes the plugin engine over REST: plugin lifecycle
// management, synchronous predictions, asynchronous prediction jobs, draw
// statistics and cron schedules. Errors are rendered as JSON with the coded
// error taxonomy mapped onto HTTP status codes.
package api
