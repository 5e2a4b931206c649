// Package monitor is the crash listener on the container engine's event
// stream.
//
// Workers die two ways: deliberately, through the delete path, which marks
// the record terminal before removing the container; or unexpectedly. The
// monitor tells them apart by that ordering: a die event for an already
// terminal record is ignored, anything else is a crash. A crash marks the
// worker failed with a cause inferred from the exit signal, and if the
// record carries an in-flight task context the original caller receives
// exactly one synthesized failure response on the worker's output subject.
//
// The stream is resubscribed with exponential backoff when the engine
// connection drops.
package monitor
