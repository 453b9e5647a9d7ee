// Package scheduler runs named daily/cron jobs (stats reset, digests) on top
// of robfig/cron.
//
// Jobs run on the cron goroutine with a per-job timeout. A job whose previous
// run is still in flight is skipped, and panics are converted to errors.
package scheduler
