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
	"context"
	"sync"
)

// MockProvider is a Provider for tests.
//
// Queued responses are returned in order; once the queue is empty the
// default response is returned. Thread Safety: Safe for concurrent use.
type MockProvider struct {
	mu sync.Mutex

	name            string
	responses       []*Response
	errs            []error
	defaultResponse *Response
	responseFunc    func(*Request) (*Response, error)
	calls           []*Request
}

// NewMockProvider creates a mock provider named "mock".
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:            "mock",
		defaultResponse: &Response{Content: "{}"},
	}
}

// WithName sets the provider id.
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponseFunc computes responses from requests.
func (m *MockProvider) WithResponseFunc(f func(*Request) (*Response, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseFunc = f
	return m
}

// QueueContent queues a successful response with the given content.
func (m *MockProvider) QueueContent(content string) *MockProvider {
	return m.queue(&Response{Content: content}, nil)
}

// QueueError queues a failed call.
func (m *MockProvider) QueueError(err error) *MockProvider {
	return m.queue(nil, err)
}

// SetDefaultContent sets the content returned once the queue is empty.
func (m *MockProvider) SetDefaultContent(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResponse = &Response{Content: content}
	return m
}

func (m *MockProvider) queue(resp *Response, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, err)
	return m
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Generate implements Generator.
func (m *MockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.responseFunc != nil {
		return m.responseFunc(req)
	}
	if len(m.responses) > 0 {
		resp, err := m.responses[0], m.errs[0]
		m.responses, m.errs = m.responses[1:], m.errs[1:]
		if err != nil {
			return nil, err
		}
		cp := *resp
		cp.ProviderID = m.name
		return &cp, nil
	}
	cp := *m.defaultResponse
	cp.ProviderID = m.name
	return &cp, nil
}

// CallCount returns the number of Generate calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded requests.
func (m *MockProvider) Calls() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.calls))
	copy(out, m.calls)
	return out
}
