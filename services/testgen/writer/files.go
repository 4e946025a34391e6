// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package writer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

var (
	// ErrWriteFailed indicates a suite file could not be written.
	ErrWriteFailed = errors.New("suite file write failed")

	// ErrPathEscape indicates a relative path resolving outside the suite root.
	ErrPathEscape = errors.New("path escapes suite root")
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager persists a suite under one root directory.
//
// Thread Safety: Safe for concurrent use. Each run should own its own
// FileManager.
type FileManager struct {
	root   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileManager creates a file manager rooted at root.
func NewFileManager(root string, logger *slog.Logger) *FileManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileManager{root: root, logger: logger}
}

// Root returns the suite root directory.
func (m *FileManager) Root() string {
	return m.root
}

// WriteSuite writes every suite file, creating directories as needed.
//
// Outputs:
//
//	error - Wraps ErrWriteFailed or ErrPathEscape for the first failing file.
func (m *FileManager) WriteSuite(suite *testgen.TestSuite) error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("%w: create root: %v", ErrWriteFailed, err)
	}
	for _, f := range suite.Files {
		if _, err := m.WriteFile(f.Path, f.Content); err != nil {
			return err
		}
	}
	m.logger.Info("Wrote suite",
		slog.String("root", m.root),
		slog.Int("files", len(suite.Files)),
	)
	return nil
}

// WriteFile atomically replaces one file and returns its previous content.
//
// Description:
//
//	Writes to a temp file beside the target and renames it into place.
//	The previous content is empty when the file did not exist.
//
// Inputs:
//
//	rel - Path relative to the root, forward slashes
//	content - Full file content
//
// Outputs:
//
//	string - Previous content
//	error - Wraps ErrPathEscape or ErrWriteFailed
//
// Thread Safety: Uses internal locking.
func (m *FileManager) WriteFile(rel, content string) (string, error) {
	target, err := m.resolve(rel)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		m.logger.Error("Failed to create directory",
			slog.String("path", filepath.Dir(target)),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: create directory: %v", ErrWriteFailed, err)
	}

	var previous string
	if existing, err := os.ReadFile(target); err == nil {
		previous = string(existing)
	}

	tmp := target + ".selfheal.tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("%w: write temp: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		m.logger.Error("Failed to rename temp file",
			slog.String("temp", tmp),
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: rename: %v", ErrWriteFailed, err)
	}

	m.logger.Debug("Wrote suite file",
		slog.String("path", rel),
		slog.Int("size", len(content)),
	)
	return previous, nil
}

// ReadFile returns the content of a suite file.
func (m *FileManager) ReadFile(rel string) (string, error) {
	target, err := m.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *FileManager) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	root, err := filepath.Abs(m.root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return target, nil
}
