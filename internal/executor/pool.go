/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool spreads jobs over several member executors with consistent hashing
// on the job id, so adding a member moves only a fraction of new work.
type Pool struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	members  map[string]Executor
	assigned map[string]string // job_id -> member
	ring     *consistentHashRing
}

// consistentHashRing implements consistent hashing for member selection.
type consistentHashRing struct {
	mu       sync.RWMutex
	nodes    []uint32          // sorted hash values
	nodeMap  map[uint32]string // hash -> member name
	replicas int               // virtual nodes per member
}

func newConsistentHashRing(replicas int) *consistentHashRing {
	return &consistentHashRing{
		nodes:    []uint32{},
		nodeMap:  make(map[uint32]string),
		replicas: replicas,
	}
}

func (r *consistentHashRing) addNode(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s:%d:vnode", name, i))
		r.nodes = append(r.nodes, hash)
		r.nodeMap[hash] = name
	}

	sort.Slice(r.nodes, func(i, j int) bool {
		return r.nodes[i] < r.nodes[j]
	})
}

func (r *consistentHashRing) removeNode(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s:%d:vnode", name, i))
		delete(r.nodeMap, hash)
	}

	nodes := make([]uint32, 0, len(r.nodeMap))
	for hash := range r.nodeMap {
		nodes = append(nodes, hash)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i] < nodes[j]
	})
	r.nodes = nodes
}

func (r *consistentHashRing) getNode(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.nodes) == 0 {
		return "", false
	}

	hash := hashKey(key)
	idx := sort.Search(len(r.nodes), func(i int) bool {
		return r.nodes[i] >= hash
	})
	if idx == len(r.nodes) {
		idx = 0
	}

	return r.nodeMap[r.nodes[idx]], true
}

// hashKey computes FNV-1a hash of a string.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// NewPool creates an empty pool.
func NewPool(logger zerolog.Logger) *Pool {
	return &Pool{
		logger:   logger.With().Str("component", "executor_pool").Logger(),
		members:  make(map[string]Executor),
		assigned: make(map[string]string),
		ring:     newConsistentHashRing(150),
	}
}

// AddMember registers an executor under name.
func (p *Pool) AddMember(name string, e Executor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.members[name]; exists {
		return fmt.Errorf("member %s already registered", name)
	}
	p.members[name] = e
	p.ring.addNode(name)
	p.logger.Info().Str("member", name).Int("members", len(p.members)).Msg("executor added to pool")
	return nil
}

// RemoveMember stops routing new jobs to name. Jobs it already runs keep
// reporting through their callbacks.
func (p *Pool) RemoveMember(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.members[name]; !exists {
		return fmt.Errorf("member %s not registered", name)
	}
	delete(p.members, name)
	p.ring.removeNode(name)
	return nil
}

// Members lists member names.
func (p *Pool) Members() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.members))
	for name := range p.members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Assignment returns the member a job was dispatched to.
func (p *Pool) Assignment(jobID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name, ok := p.assigned[jobID]
	return name, ok
}

// Bind implements Binder by binding every member that supports it.
func (p *Pool) Bind(cb Callbacks) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	wrapped := poolCallbacks{pool: p, next: cb}
	var errs []error
	for name, e := range p.members {
		if b, ok := e.(Binder); ok {
			if err := b.Bind(wrapped); err != nil {
				errs = append(errs, fmt.Errorf("bind %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Dispatch implements Executor.
func (p *Pool) Dispatch(ctx context.Context, jobID string, duration time.Duration) error {
	name, ok := p.ring.getNode(jobID)
	if !ok {
		return Reject("executor pool is empty")
	}
	p.mu.Lock()
	member := p.members[name]
	p.assigned[jobID] = name
	p.mu.Unlock()

	if err := member.Dispatch(ctx, jobID, duration); err != nil {
		p.forget(jobID)
		return err
	}
	return nil
}

// Cancel implements Executor.
func (p *Pool) Cancel(ctx context.Context, jobID string) error {
	p.mu.RLock()
	name, ok := p.assigned[jobID]
	member := p.members[name]
	p.mu.RUnlock()
	if !ok || member == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return member.Cancel(ctx, jobID)
}

func (p *Pool) forget(jobID string) {
	p.mu.Lock()
	delete(p.assigned, jobID)
	p.mu.Unlock()
}

// poolCallbacks drops assignments once a job reports its outcome.
type poolCallbacks struct {
	pool *Pool
	next Callbacks
}

func (c poolCallbacks) OnComplete(ctx context.Context, jobID, outcome string, actual *float64) error {
	c.pool.forget(jobID)
	return c.next.OnComplete(ctx, jobID, outcome, actual)
}

func (c poolCallbacks) OnFailed(ctx context.Context, jobID, reason string) error {
	c.pool.forget(jobID)
	return c.next.OnFailed(ctx, jobID, reason)
}
