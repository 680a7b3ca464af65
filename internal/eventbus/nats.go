/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/events"
)

const natsSubjectPrefix = "carbonwise.events."

// NATSBus relays events over core NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Options returns the nats.Connect options for cfg.
func (cfg NATSConfig) Options(name string, logger zerolog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// NewNATSBus connects to NATS and starts relaying. When NATS is unreachable
// the bus still serves local subscribers.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	logger = logger.With().Str("component", "nats_event_bus").Logger()
	nb := &NATSBus{local: events.NewBus(), logger: logger, nodeID: nodeID}

	conn, err := nats.Connect(cfg.URL, cfg.Options("carbonwise-events-"+nodeID, logger)...)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.URL).Msg("nats connection failed, events stay local")
		return nb
	}
	if _, err := conn.Subscribe(natsSubjectPrefix+">", nb.handle); err != nil {
		logger.Warn().Err(err).Msg("nats subscribe failed, events stay local")
		conn.Close()
		return nb
	}
	nb.conn = conn
	logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nodeID).Msg("nats event bus initialized")
	return nb
}

func (nb *NATSBus) handle(msg *nats.Msg) {
	if _, err := relay(nb.local, nb.nodeID, msg.Data); err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
	}
}

// Subscribe implements events.Broker.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe implements events.Broker.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and relays to other nodes.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	if nb.conn == nil {
		return
	}
	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to nats")
	}
}

// Remote reports whether events currently reach other nodes.
func (nb *NATSBus) Remote() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	return nb.conn.Drain()
}
