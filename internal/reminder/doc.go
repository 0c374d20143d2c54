// Package reminder turns an activity's due date and lead time into a single
// durable one-shot notification.
//
// Every armed reminder is a store row plus a timer keyed by activity id. The
// row carries a generation that the timer callback presents back on fire;
// OnFire acts only when the presented generation matches the stored one, so
// replaced, canceled or duplicated callbacks are discarded no matter how late
// they arrive or whether the process restarted in between.
//
// Schedule, Cancel and OnFire for the same activity are serialized by a
// per-activity lock. Different activities never contend.
package reminder
