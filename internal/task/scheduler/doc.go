// Package scheduler turns cron, interval, daily and one-shot registrations
// into tasks on the task engine. It only triggers: timeouts, retries and
// overlap gating are the engine's business.
package scheduler
