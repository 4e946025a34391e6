// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package spec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSpecFile indicates a spec file could not be decoded.
var ErrInvalidSpecFile = errors.New("invalid spec file")

// DirStore serves specs loaded from a directory of .yaml, .yml and .json
// files, one spec per file, and reloads them when the files change.
//
// Thread Safety: Safe for concurrent use.
type DirStore struct {
	dir     string
	mem     *MemoryStore
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	pathToID map[string]string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// OpenDirStore loads every spec file in dir.
//
// Description:
//
//	Files that fail to decode are logged and skipped. Call Watch to pick up
//	later changes and Close to stop watching.
//
// Outputs:
//
//	*DirStore - Store with the loaded specs
//	error - Non-nil if dir cannot be read
func OpenDirStore(dir string, logger *slog.Logger) (*DirStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read spec dir: %w", err)
	}

	s := &DirStore{
		dir:      dir,
		mem:      NewMemoryStore(),
		logger:   logger,
		pathToID: make(map[string]string),
		done:     make(chan struct{}),
	}
	for _, e := range entries {
		if e.IsDir() || !isSpecFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := s.load(path); err != nil {
			logger.Warn("Skipping spec file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	logger.Info("Spec store loaded",
		slog.String("dir", dir),
		slog.Int("specs", len(s.mem.IDs())),
	)
	return s, nil
}

// FindByID implements Store.
func (s *DirStore) FindByID(ctx context.Context, id string) (*NormalizedSpec, error) {
	return s.mem.FindByID(ctx, id)
}

// IDs returns the ids of all loaded specs.
func (s *DirStore) IDs() []string {
	return s.mem.IDs()
}

// Watch starts reloading specs on file changes until ctx is done or Close.
func (s *DirStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.watcher = w

	s.wg.Add(1)
	go s.processEvents(ctx)
	return nil
}

// Close stops watching. Safe to call more than once.
func (s *DirStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return err
}

func (s *DirStore) processEvents(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isSpecFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				s.forget(event.Name)
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				if err := s.load(event.Name); err != nil {
					s.logger.Warn("Spec reload failed",
						slog.String("path", event.Name),
						slog.String("error", err.Error()),
					)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Spec watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *DirStore) load(path string) error {
	sp, err := ReadFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.pathToID[path]; ok && old != sp.ID {
		s.mem.Delete(old)
	}
	s.pathToID[path] = sp.ID
	s.mem.Put(sp)
	s.logger.Debug("Spec loaded",
		slog.String("id", sp.ID),
		slog.String("path", path),
		slog.Int("operations", len(sp.Operations)),
	)
	return nil
}

func (s *DirStore) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pathToID[path]; ok {
		s.mem.Delete(id)
		delete(s.pathToID, path)
		s.logger.Info("Spec removed", slog.String("id", id), slog.String("path", path))
	}
}

// ReadFile decodes one spec file. JSON files use the json tags, YAML files
// the yaml tags. A spec without an id takes the file name without extension.
func ReadFile(path string) (*NormalizedSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var sp NormalizedSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &sp)
	default:
		err = yaml.Unmarshal(data, &sp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSpecFile, path, err)
	}
	if sp.ID == "" {
		sp.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(sp.Operations) == 0 {
		return nil, fmt.Errorf("%w: %s: no operations", ErrInvalidSpecFile, path)
	}
	return &sp, nil
}

func isSpecFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
