/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/events"
)

func TestRelaySkipsOwnMessages(t *testing.T) {
	local := events.NewBus()
	sub := local.Subscribe(events.EventJobReady)

	own, err := marshalMessage(events.EventJobReady, events.Payload{"job_id": "a"}, "node-1")
	if err != nil {
		t.Fatalf("marshalMessage() error = %v", err)
	}
	delivered, err := relay(local, "node-1", own)
	if err != nil || delivered {
		t.Fatalf("relay(own) = %v, %v; want dropped", delivered, err)
	}

	remote, _ := marshalMessage(events.EventJobReady, events.Payload{"job_id": "b"}, "node-2")
	delivered, err = relay(local, "node-1", remote)
	if err != nil || !delivered {
		t.Fatalf("relay(remote) = %v, %v; want delivered", delivered, err)
	}
	select {
	case payload := <-sub:
		if payload["job_id"] != "b" || payload["source_node"] != "node-2" {
			t.Errorf("payload = %v, want job b from node-2", payload)
		}
	default:
		t.Fatal("remote event not delivered locally")
	}
}

func TestRelayRejectsMalformed(t *testing.T) {
	local := events.NewBus()
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"no event type", `{"payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := relay(local, "n", []byte(tt.data)); err == nil {
				t.Error("relay() error = nil, want error")
			}
		})
	}
}

func TestUnreachableTransportsStayLocal(t *testing.T) {
	redisCfg := DefaultRedisConfig()
	redisCfg.Addr = "127.0.0.1:1"
	redisCfg.DialTimeout = 100 * time.Millisecond

	natsCfg := DefaultNATSConfig()
	natsCfg.URL = "nats://127.0.0.1:1"
	natsCfg.Timeout = 100 * time.Millisecond

	buses := map[string]interface {
		events.Broker
		Remote() bool
		Close() error
	}{
		"redis": NewRedisBus(redisCfg, "n", zerolog.Nop()),
		"nats":  NewNATSBus(natsCfg, "n", zerolog.Nop()),
	}
	for name, bus := range buses {
		t.Run(name, func(t *testing.T) {
			defer bus.Close()
			if bus.Remote() {
				t.Fatal("Remote() = true without a server")
			}
			sub := bus.Subscribe(events.EventSchedulerTick)
			bus.Publish(events.EventSchedulerTick, events.Payload{"evaluated": 1})
			select {
			case <-sub:
			case <-time.After(time.Second):
				t.Fatal("local subscriber not served")
			}
			bus.Unsubscribe(events.EventSchedulerTick, sub)
		})
	}
}

func TestNodeIDUnique(t *testing.T) {
	if NodeID() == NodeID() {
		t.Error("NodeID() returned the same id twice")
	}
}
