// Package governor enforces the subsystem's resource ceilings.
//
// Two concerns live here. The worker ceiling: Acquire/Release bracket
// every create, counting live workers in the status store plus creates
// still in flight, so concurrent creates cannot slip past the limit
// together. Full capacity either rejects immediately or, with
// QueueOnCapacity, waits for a slot.
//
// Image garbage collection: a periodic sweep evicts cached worker images
// in least-recently-used order, bounded by a retention window and an
// optional cache size cap. Only references under the worker image
// namespace are candidates, and images backing a live worker are always
// kept.
package governor
