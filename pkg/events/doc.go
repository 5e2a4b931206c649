// Package events provides the in-process lifecycle event broker.
//
// The worker manager and the crash monitor publish state transitions here;
// metrics and the outbound event bridge subscribe. Delivery is best-effort
// per subscriber so the lifecycle path never blocks on a slow consumer.
package events
