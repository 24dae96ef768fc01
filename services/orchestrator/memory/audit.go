// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.curator.memory")

const (
	turnPrefix      = "turn/"
	maxCommitTries  = 3
	seqDigits       = 20
	defaultGCPeriod = 5 * time.Minute
)

// AuditConfig configures the audit log database.
type AuditConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the log in RAM only. Used by tests and when no path
	// is configured.
	InMemory bool

	// SyncWrites fsyncs every committed turn.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
}

// DefaultAuditConfig returns the production configuration for path. An
// empty path selects in-memory mode.
func DefaultAuditConfig(path string) AuditConfig {
	if path == "" {
		return AuditConfig{InMemory: true}
	}
	return AuditConfig{Path: path, SyncWrites: true, GCInterval: defaultGCPeriod}
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// AuditLog is the durable, append-only record of completed turns.
//
// # Description
//
// Each turn is stored as JSON under turn/<session>/<seq>, where seq is a
// zero-padded per-session counter starting at 1, so a prefix scan returns
// a session's turns in order. The log is never read to build prompts.
//
// Thread Safety: safe for concurrent use.
type AuditLog struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// OpenAuditLog opens the audit log database.
//
// # Outputs
//
//   - *AuditLog: The open log. Call Close when done.
//   - error: Non-nil if the directory or database cannot be opened.
func OpenAuditLog(cfg AuditConfig) (*AuditLog, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("audit log path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit log directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a := &AuditLog{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		a.stopGC = make(chan struct{})
		a.doneGC = make(chan struct{})
		go a.runGC(cfg.GCInterval)
	}
	slog.Info("Audit log opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return a, nil
}

// Close stops GC and closes the database.
func (a *AuditLog) Close() error {
	if a.stopGC != nil {
		close(a.stopGC)
		<-a.doneGC
		a.stopGC = nil
	}
	return a.db.Close()
}

func (a *AuditLog) runGC(interval time.Duration) {
	defer close(a.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := a.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Audit log value GC failed", "error", err)
			}
		}
	}
}

// sessionPrefix escapes the id so that one session's prefix never matches
// another session's keys.
func sessionPrefix(sessionID string) []byte {
	return []byte(turnPrefix + url.PathEscape(sessionID) + "/")
}

func turnKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", sessionPrefix(sessionID), seqDigits, seq))
}

// Append stores rec as the next turn of its session and returns the
// assigned sequence number. rec.Sequence is overwritten.
func (a *AuditLog) Append(ctx context.Context, rec datatypes.TurnRecord) (uint64, error) {
	_, span := tracer.Start(ctx, "AuditLog.Append",
		trace.WithAttributes(attribute.String("session.id", rec.SessionID)))
	defer span.End()

	if rec.SessionID == "" {
		return 0, errors.New("audit record has no session id")
	}

	var seq uint64
	var err error
	for try := 0; try < maxCommitTries; try++ {
		if err = ctx.Err(); err != nil {
			break
		}
		err = a.db.Update(func(txn *badger.Txn) error {
			last, err := lastSequence(txn, rec.SessionID)
			if err != nil {
				return err
			}
			seq = last + 1
			rec.Sequence = seq
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal turn record: %w", err)
			}
			return txn.Set(turnKey(rec.SessionID, seq), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append failed")
		return 0, fmt.Errorf("append turn for session %s: %w", rec.SessionID, err)
	}
	span.SetAttributes(attribute.Int64("turn.sequence", int64(seq)))
	return seq, nil
}

// lastSequence returns the highest stored sequence of a session, or 0.
func lastSequence(txn *badger.Txn, sessionID string) (uint64, error) {
	prefix := sessionPrefix(sessionID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xFF))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt audit key %q: %w", key, err)
	}
	return seq, nil
}

// Turns returns every stored turn of a session in sequence order. An
// unknown session yields an empty slice.
func (a *AuditLog) Turns(ctx context.Context, sessionID string) ([]datatypes.TurnRecord, error) {
	_, span := tracer.Start(ctx, "AuditLog.Turns",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	out := []datatypes.TurnRecord{}
	prefix := sessionPrefix(sessionID)
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec datatypes.TurnRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode turn %q: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit read failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("turn.count", len(out)))
	return out, nil
}
