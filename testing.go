package cachecore

import (
	"sync"

	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/interfaces"
)

// MockDevice is a mock implementation of interfaces.DiscardDevice for
// testing, tracking method calls for verification.
type MockDevice struct {
	data   []byte
	size   int64
	closed bool
	flushed bool

	mu         sync.RWMutex
	readCalls  int
	writeCalls int
	flushCalls int
}

// NewMockDevice creates a new mock device of the specified size, useful
// for unit testing code that composes against interfaces.BlockDevice.
func NewMockDevice(size int64) *MockDevice {
	return &MockDevice{
		data: make([]byte, size),
		size: size,
	}
}

// ReadAt implements interfaces.BlockDevice.
func (m *MockDevice) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++

	if m.closed {
		return 0, errs.New("mock_read", errs.CodeIOError, "device closed")
	}
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

// WriteAt implements interfaces.BlockDevice.
func (m *MockDevice) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++

	if m.closed {
		return 0, errs.New("mock_write", errs.CodeIOError, "device closed")
	}
	if off >= m.size {
		return 0, errs.New("mock_write", errs.CodeInvalid, "write beyond end of device")
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// Size implements interfaces.BlockDevice.
func (m *MockDevice) Size() int64 {
	return m.size
}

// Close implements interfaces.BlockDevice.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// Flush implements interfaces.BlockDevice.
func (m *MockDevice) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	m.flushed = true
	return nil
}

// Discard implements interfaces.DiscardDevice.
func (m *MockDevice) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset >= m.size {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (m *MockDevice) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsFlushed reports whether Flush has been called.
func (m *MockDevice) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// CallCounts returns how many times each method has been called.
func (m *MockDevice) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"flush": m.flushCalls,
	}
}

// Reset clears all call counters and the flushed flag. A closed device
// stays closed.
func (m *MockDevice) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.flushed = false
}

var (
	_ interfaces.BlockDevice   = (*MockDevice)(nil)
	_ interfaces.DiscardDevice = (*MockDevice)(nil)
)
