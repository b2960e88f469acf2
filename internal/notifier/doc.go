// Package notifier delivers outbound messages to groups.
//
// Replies and pushes both go through Service.Send, which waits on a shared
// rate limit, bounds each adapter call, retries with jittered backoff and
// publishes the outcome on the event bus. Send is synchronous so callers
// mark a push as delivered only after it really went out.
package notifier
