/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays scheduler events between instances over Redis
// pub/sub or NATS. Local subscribers are always served by an in-process
// events.Bus; the transport only carries events to and from other nodes.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/carbonwise/internal/events"
)

// message is the wire envelope shared by both transports.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event message: missing event type")
	}
	return &msg, nil
}

// NodeID builds an identifier unique to this process.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// relay delivers a remote message to local subscribers, dropping our own
// messages echoed back by the transport. It reports whether it delivered.
func relay(local *events.Bus, nodeID string, data []byte) (bool, error) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		return false, err
	}
	if msg.NodeID == nodeID {
		return false, nil
	}
	if msg.Payload == nil {
		msg.Payload = events.Payload{}
	}
	msg.Payload["source_node"] = msg.NodeID
	local.Publish(msg.EventType, msg.Payload)
	return true, nil
}
