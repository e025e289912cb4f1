package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/V4T54L/logrelay/internal/domain"
)

// MockStore is an in-memory implementation of domain.Store for testing.
type MockStore struct {
	mu      sync.Mutex
	hosts   map[string]*domain.Host
	sources map[string]*domain.Source
	nextID  int64

	Logs          []domain.LogRecord
	HostLookups   int
	SourceLookups int
	Touches       int
	Closed        bool
	InsertLogErr  error
	FailMessages  map[string]error // InsertLog fails for records with this message
	PanicMessages map[string]bool  // InsertLog panics for records with this message
	FindHostErr   error
	FindSourceErr error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		hosts:   make(map[string]*domain.Host),
		sources: make(map[string]*domain.Source),
	}
}

func (m *MockStore) FindHostByIP(ctx context.Context, ip string) (*domain.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HostLookups++
	if m.FindHostErr != nil {
		return nil, m.FindHostErr
	}
	h, ok := m.hosts[ip]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MockStore) InsertHost(ctx context.Context, host *domain.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	host.ID = m.nextID
	cp := *host
	m.hosts[host.IP] = &cp
	return nil
}

func (m *MockStore) TouchHost(ctx context.Context, host *domain.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Touches++
	if h, ok := m.hosts[host.IP]; ok {
		h.LastSeenAt = host.LastSeenAt
	}
	return nil
}

func (m *MockStore) FindSourceByName(ctx context.Context, name string) (*domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SourceLookups++
	if m.FindSourceErr != nil {
		return nil, m.FindSourceErr
	}
	s, ok := m.sources[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) InsertSource(ctx context.Context, source *domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	source.ID = m.nextID
	cp := *source
	m.sources[source.Name] = &cp
	return nil
}

func (m *MockStore) InsertLog(ctx context.Context, record *domain.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PanicMessages[record.Message] {
		panic(fmt.Sprintf("mock store panic on %q", record.Message))
	}
	if err, ok := m.FailMessages[record.Message]; ok {
		return err
	}
	if m.InsertLogErr != nil {
		return m.InsertLogErr
	}
	m.Logs = append(m.Logs, *record)
	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Messages returns the message text of every stored log, in insert order.
func (m *MockStore) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Logs))
	for i, l := range m.Logs {
		out[i] = l.Message
	}
	return out
}

// MockSender records every message passed to Send.
type MockSender struct {
	mu      sync.Mutex
	Sent    []domain.FormattedMessage
	SendErr error
}

func (m *MockSender) Send(ctx context.Context, msg domain.FormattedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// MockPublisher records published records.
type MockPublisher struct {
	mu         sync.Mutex
	Published  []domain.LogRecord
	PublishErr error
}

func (m *MockPublisher) Publish(ctx context.Context, record *domain.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, *record)
	return nil
}
