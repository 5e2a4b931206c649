package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
)

const (
	// SubjectCommands carries inbound command envelopes. Consumed with a
	// queue group so horizontally scaled daemons split the load.
	SubjectCommands = "agentd.commands"

	// SubjectEvents carries worker lifecycle events for external consumers
	SubjectEvents = "agentd.events"

	// SubjectControl receives responses for commands that failed before a
	// worker existed to name
	SubjectControl = "agentd.out.control"

	// QueueGroup is the shared queue group name for command consumption
	QueueGroup = "agentd"

	outputPrefix = "agentd.out."
)

// OutputSubject returns the response subject for a worker name
func OutputSubject(workerName string) string {
	return outputPrefix + workerName
}

// Publisher is the outbound half of the bus, split out so handlers can be
// tested against a recording fake
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Conn wraps a NATS connection with JSON publishing and queue subscription
type Conn struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// Connect dials the NATS server. Reconnects are unbounded; the subsystem
// rides out broker restarts.
func Connect(url string) (*Conn, error) {
	logger := log.WithComponent("bus")

	nc, err := nats.Connect(url,
		nats.Name("agentd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return &Conn{nc: nc, logger: logger}, nil
}

// PublishJSON marshals v and publishes it on the subject
func (c *Conn) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", subject, err)
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// QueueSubscribe subscribes to the subject within a queue group and hands
// each message's payload to the handler
func (c *Conn) QueueSubscribe(subject, queue string, handler func(data []byte)) (*nats.Subscription, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains in-flight messages and closes the connection
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.logger.Warn().Err(err).Msg("NATS drain failed, closing hard")
		c.nc.Close()
	}
}

var _ Publisher = (*Conn)(nil)
