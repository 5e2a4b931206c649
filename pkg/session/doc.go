// Package session manages per-worker conversation continuity handles.
//
// A handle is an opaque token the agent CLI uses to resume a prior
// conversation. Handles are stored with a sliding TTL: every successful
// exchange resets the window, so only genuinely idle conversations expire.
// Expired handles are deleted on read and the next exchange starts a fresh
// conversation rather than failing.
package session
