// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory holds conversation state: the in-process session log used
// to build prompts, and the durable audit log of completed turns.
//
// # Description
//
// A session's log is append-only. Messages are never rewritten in place;
// callers receive copies. Each session also carries a turn lock so that
// turns on the same session run one at a time while turns on different
// sessions proceed independently.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/prompt"
)

// ErrUnknownSession is returned for a session id the store has never seen.
var ErrUnknownSession = errors.New("unknown session")

// session is one conversation. turn is a one-slot semaphore held for the
// duration of a turn.
type session struct {
	turn     chan struct{}
	mu       sync.RWMutex
	log      []datatypes.Message
	created  time.Time
	lastUsed time.Time
}

// Store is the in-process session memory.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// get returns the session for id, creating it when create is true.
func (s *Store) get(id string, create bool) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok && create {
		now := s.now()
		sess = &session{turn: make(chan struct{}, 1), created: now, lastUsed: now}
		s.sessions[id] = sess
		slog.Debug("Session created", "session_id", id)
	}
	return sess
}

// Lock acquires the turn lock of a session, creating the session on first
// use.
//
// # Description
//
// Blocks until no other turn is running on the session or ctx is done.
// The returned function releases the lock and must be called exactly once.
//
// # Outputs
//
//   - func(): Releases the turn lock.
//   - error: ctx.Err() if the context ended while waiting.
func (s *Store) Lock(ctx context.Context, sessionID string) (func(), error) {
	for {
		sess := s.get(sessionID, true)
		select {
		case sess.turn <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// The session may have been evicted between lookup and acquire.
		s.mu.Lock()
		current := s.sessions[sessionID] == sess
		s.mu.Unlock()
		if !current {
			<-sess.turn
			continue
		}

		sess.mu.Lock()
		sess.lastUsed = s.now()
		sess.mu.Unlock()

		var once sync.Once
		return func() {
			once.Do(func() { <-sess.turn })
		}, nil
	}
}

// Append adds messages to the end of a session's log.
func (s *Store) Append(sessionID string, msgs ...datatypes.Message) {
	sess := s.get(sessionID, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.log = append(sess.log, msgs...)
	sess.lastUsed = s.now()
}

// History returns a copy of the full log of a session. An unknown session
// has an empty history.
func (s *Store) History(sessionID string) []datatypes.Message {
	sess := s.get(sessionID, false)
	if sess == nil {
		return nil
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	out := make([]datatypes.Message, len(sess.log))
	copy(out, sess.log)
	return out
}

// Window returns the last n user turns of a session, without
// guardrail-flagged messages or tool traffic.
func (s *Store) Window(sessionID string, n int) []datatypes.Message {
	return prompt.Window(s.History(sessionID), n)
}

// Len returns the number of messages in a session's log.
func (s *Store) Len(sessionID string) int {
	sess := s.get(sessionID, false)
	if sess == nil {
		return 0
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return len(sess.log)
}

// Exists reports whether the store holds the session.
func (s *Store) Exists(sessionID string) bool {
	return s.get(sessionID, false) != nil
}

// Sessions returns the number of live sessions.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle drops sessions untouched for longer than idle whose turn lock
// is free. It returns the number of sessions removed.
func (s *Store) EvictIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.RLock()
		stale := sess.lastUsed.Before(cutoff)
		sess.mu.RUnlock()
		if !stale {
			continue
		}
		select {
		case sess.turn <- struct{}{}:
			delete(s.sessions, id)
			<-sess.turn
			removed++
		default:
			// a turn is running
		}
	}
	if removed > 0 {
		slog.Info("Evicted idle sessions", "count", removed, "idle", idle.String())
	}
	return removed
}

// Reaper evicts idle sessions from a Store on a fixed interval.
type Reaper struct {
	store    *Store
	idle     time.Duration
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a Reaper. Call Start to begin and Stop to halt it.
func NewReaper(store *Store, idle, interval time.Duration) (*Reaper, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if idle <= 0 || interval <= 0 {
		return nil, errors.New("idle and interval must be positive")
	}
	return &Reaper{
		store:    store,
		idle:     idle,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the eviction loop in a goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop halts the loop and waits for it to exit. Safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.store.EvictIdle(r.idle)
		}
	}
}
