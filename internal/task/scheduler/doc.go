// Package scheduler registers named jobs on cron or interval triggers and
// runs them with a per-run timeout, panic recovery and overlap skipping.
package scheduler
