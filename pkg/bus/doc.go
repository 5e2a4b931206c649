// Package bus is the thin NATS layer for the command/response surface.
//
//	agentd.commands        inbound commands (queue group "agentd")
//	agentd.out.<worker>    responses, addressed by worker name
//	agentd.out.control     responses with no worker to address
//	agentd.events          lifecycle events
package bus
