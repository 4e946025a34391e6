// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"strings"

	"github.com/awnumar/memguard"
)

// Secret holds an API key sealed in an encrypted enclave.
//
// The plaintext only exists while Reveal runs, or inside SDK clients that
// require the key at construction.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals key. The caller's copy of key is not wiped.
func NewSecret(key string) *Secret {
	if key == "" {
		return nil
	}
	return &Secret{enclave: memguard.NewEnclave([]byte(key))}
}

// Present reports whether a key is held.
func (s *Secret) Present() bool {
	return s != nil && s.enclave != nil
}

// Reveal returns the plaintext key.
func (s *Secret) Reveal() (string, error) {
	if !s.Present() {
		return "", ErrMissingAPIKey
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}
