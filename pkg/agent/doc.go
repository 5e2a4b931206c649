// Package agent adapts the per-vendor CLI coding agents behind a single
// Adapter interface. Each adapter knows its agent's invocation syntax and
// output format and turns a prompt exchange into a normalized Result.
//
//	Invocation ──► Adapter.Invoke ──► engine exec ──► parse ──► Result
//
// claude runs in print mode with a JSON result envelope on stdout. codex
// runs in exec mode and streams JSONL events; the adapter collects
// agent_message items and the thread id. Session continuity is expressed
// through the opaque SessionHandle: present on the Invocation it resumes a
// conversation, present on the Result it names the conversation the agent
// just used.
//
// ExtractVerdict scans a Result's segments for the structured outcome block
// agents embed in their free-form answer.
package agent
