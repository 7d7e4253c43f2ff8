/*
Package events is a small non-blocking fan-out broker: one event
channel in, N buffered subscriber channels out. Used by pkg/store to
let callers watch package lifecycle transitions and progress snapshots
without making a commit block on a slow subscriber.

Publish never blocks on subscribers: a full subscriber buffer simply
skips that event. Callers that need every event (rather than a
best-effort tail) should drain their subscription promptly.
*/
package events
