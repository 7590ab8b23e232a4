// Package schedule submits prediction jobs on cron schedules. Each firing
// derives its job id from the schedule name and the scheduled time, so a
// firing that is delivered twice resolves to the same job.
package schedule
