// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

const keyPrefix = "run/"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps the database in RAM. Useful for testing.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites makes each Save durable before returning.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables.
	// Default: 5m
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	// Default: 0.5
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives Badger's internal logs. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultBadgerConfig returns production defaults for the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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

func openBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent run store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create run store directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open badger run store: %w", err)
	}
	return db, nil
}

// BadgerStore persists snapshots in BadgerDB so statuses survive restarts.
//
// Terminal runs are written with a TTL equal to the retention period, so
// Badger expires them on its own. Sweep only enforces MaxEntries.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
}

// OpenBadgerStore opens a BadgerDB-backed store.
//
// Inputs:
//
//	bcfg - Database configuration
//	cfg - Retention configuration
//
// Outputs:
//
//	*BadgerStore - The store. Caller must call Close.
//	error - Non-nil if the database cannot be opened
func OpenBadgerStore(bcfg BadgerConfig, cfg Config) (*BadgerStore, error) {
	_ = cfg.Validate()
	db, err := openBadger(bcfg)
	if err != nil {
		return nil, err
	}
	logger := bcfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, cfg: cfg, logger: logger}

	if bcfg.GCInterval > 0 && !bcfg.InMemory {
		ratio := bcfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(bcfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("Run store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func runKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Save implements Store.
func (s *BadgerStore) Save(_ context.Context, status *testgen.RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", status.RunID, err)
	}
	entry := badger.NewEntry(runKey(status.RunID), data)
	if status.Phase.IsTerminal() {
		entry = entry.WithTTL(s.cfg.Retention)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("save run %s: %w", status.RunID, err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, runID string) (*testgen.RunStatus, error) {
	var status testgen.RunStatus
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &status)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, fmt.Errorf("%w: %s", testgen.ErrRunNotFound, runID)
	case errors.Is(err, badger.ErrDBClosed):
		return nil, ErrClosed
	case err != nil:
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &status, nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, opts ListOptions) ([]*testgen.RunStatus, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, st := range all {
		if opts.match(st) {
			out = append(out, st)
		}
	}
	sortNewestFirst(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *BadgerStore) scan() ([]*testgen.RunStatus, error) {
	var out []*testgen.RunStatus
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var st testgen.RunStatus
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			})
			if err != nil {
				s.logger.Warn("Skipping unreadable run snapshot",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, &st)
		}
		return nil
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, runID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(runKey(runID))
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

// Sweep implements Store.
//
// Expiry by retention is normally handled by the TTL set in Save; Sweep also
// removes expired terminal runs whose TTL was never set, then evicts the
// oldest terminal runs beyond MaxEntries.
func (s *BadgerStore) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	all, err := s.scan()
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	kept := all[:0]
	for _, st := range all {
		if expired(st, now, s.cfg.Retention) {
			if err := s.Delete(ctx, st.RunID); err != nil {
				return res, err
			}
			res.Expired++
			continue
		}
		kept = append(kept, st)
	}
	for _, id := range evictionOrder(kept, s.cfg.MaxEntries) {
		if err := s.Delete(ctx, id); err != nil {
			return res, err
		}
		res.Evicted++
	}
	return res, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.gcStop != nil {
			close(s.gcStop)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
