// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// mockService fails its first n runs and then blocks until canceled.
type mockService struct {
	name       string
	startCount atomic.Int32
	stopCount  atomic.Int32
	failures   atomic.Int32
}

func newMockService(name string) *mockService {
	return &mockService{name: name}
}

func (m *mockService) Serve(ctx context.Context) error {
	m.startCount.Add(1)
	defer m.stopCount.Add(1)

	if m.failures.Add(-1) >= 0 {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) failFirst(n int) {
	m.failures.Store(int32(n))
}

func (m *mockService) StartCount() int32 { return m.startCount.Load() }

func (m *mockService) StopCount() int32 { return m.stopCount.Load() }

func (m *mockService) String() string { return m.name }
