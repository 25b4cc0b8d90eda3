package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultVisibility  = 30 * time.Second
	defaultMaxAttempts = 5
	pollInterval       = 10 * time.Millisecond
)

type memoryItem struct {
	id        string
	body      []byte
	attrs     map[string]string
	receipt   string
	attempt   int
	visibleAt time.Time
}

// Memory is an in-process Channel with real visibility-timeout semantics:
// leased messages reappear after the lease expires, and messages that have
// been delivered too many times are redirected to an optional dead-letter
// channel. The clock is injectable so redelivery is testable without
// sleeping.
type Memory struct {
	mu          sync.Mutex
	items       []*memoryItem
	visibility  time.Duration
	maxAttempts int
	deadLetter  *Memory
	clock       func() time.Time
}

// MemoryOption configures a Memory channel.
type MemoryOption func(*Memory)

// WithVisibility sets the lease duration.
func WithVisibility(d time.Duration) MemoryOption {
	return func(m *Memory) { m.visibility = d }
}

// WithMaxAttempts sets the delivery attempt bound before dead-lettering.
func WithMaxAttempts(n int) MemoryOption {
	return func(m *Memory) { m.maxAttempts = n }
}

// WithDeadLetter redirects over-delivered messages to dlq.
func WithDeadLetter(dlq *Memory) MemoryOption {
	return func(m *Memory) { m.deadLetter = dlq }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) { m.clock = clock }
}

// NewMemory creates an in-memory channel.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		visibility:  defaultVisibility,
		maxAttempts: defaultMaxAttempts,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, &memoryItem{
		id:        uuid.New().String(),
		body:      body,
		attrs:     attrs,
		visibleAt: m.clock(),
	})
	return nil
}

func (m *Memory) Receive(ctx context.Context, wait time.Duration) (*Message, error) {
	deadline := m.clock().Add(wait)
	for {
		if msg := m.tryLease(); msg != nil {
			return msg, nil
		}
		if wait <= 0 || !m.clock().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *Memory) tryLease() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	// Index loop: removing an exhausted item shifts the slice left, so the
	// cursor must stay put to consider the element that took its place.
	for i := 0; i < len(m.items); {
		item := m.items[i]
		if item.visibleAt.After(now) {
			i++
			continue
		}
		if item.attempt >= m.maxAttempts {
			// Exhausted its delivery budget while unacknowledged.
			m.items = append(m.items[:i], m.items[i+1:]...)
			if m.deadLetter != nil {
				m.deadLetter.items = append(m.deadLetter.items, &memoryItem{
					id:        item.id,
					body:      item.body,
					attrs:     item.attrs,
					visibleAt: now,
				})
			}
			continue
		}

		item.attempt++
		item.receipt = uuid.New().String()
		item.visibleAt = now.Add(m.visibility)
		return &Message{
			ID:      item.id,
			Receipt: item.receipt,
			Body:    item.body,
			Attempt: item.attempt,
		}
	}
	return nil
}

func (m *Memory) Ack(ctx context.Context, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	for i, item := range m.items {
		if item.receipt == receipt && item.visibleAt.After(now) {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrUnknownReceipt
}

func (m *Memory) Extend(ctx context.Context, receipt string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	for _, item := range m.items {
		if item.receipt == receipt && item.visibleAt.After(now) {
			item.visibleAt = now.Add(d)
			return nil
		}
	}
	return ErrUnknownReceipt
}

// Len returns the number of messages held (leased or visible).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
