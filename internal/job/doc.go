// Package job runs prediction requests asynchronously. Jobs are persisted in
// a Store, handed to workers through a Queue (memory, Redis or RabbitMQ) and
// executed by a Processor that fetches historical draws, consults the result
// cache and calls the plugin manager. Retryable failures are re-queued until
// MaxRetries is reached; terminal failures are reported to the alert
// dispatcher.
package job
