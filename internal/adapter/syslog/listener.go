package syslog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/domain"
)

// Enqueuer accepts decoded events for persistence.
type Enqueuer interface {
	Enqueue(ctx context.Context, event domain.QueuedEvent) error
}

// Listener receives datagrams, turns them into typed events and enqueues
// them. It is the producer side of the collector.
type Listener struct {
	conn       *net.UDPConn
	readMax    int
	classifier *Classifier
	queue      Enqueuer
	metrics    *metrics.CollectorMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// Listen binds a UDP socket on addr. m may be nil.
func Listen(addr string, readMax int, classifier *Classifier, queue Enqueuer, m *metrics.CollectorMetrics, logger *slog.Logger) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{
		conn:       conn,
		readMax:    readMax,
		classifier: classifier,
		queue:      queue,
		metrics:    m,
		logger:     logger.With("component", "syslog_listener"),
		now:        time.Now,
	}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run reads datagrams until ctx is cancelled. Read errors are logged and the
// loop continues.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	l.logger.Info("Listening for datagrams", "addr", l.conn.LocalAddr().String())
	buf := make([]byte, l.readMax)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info("Listener stopped")
				return nil
			}
			l.logger.Debug("failed to read datagram", "error", err)
			continue
		}
		l.HandleDatagram(ctx, buf[:n], addr.IP.String())
	}
}

// HandleDatagram decodes, classifies and enqueues one datagram. Malformed
// datagrams are dropped.
func (l *Listener) HandleDatagram(ctx context.Context, datagram []byte, hostIP string) {
	facility, priority, payload, err := Decode(datagram)
	if err != nil {
		l.record("malformed")
		l.logger.Debug("dropping datagram", "host", hostIP, "error", err)
		return
	}

	receivedAt := l.now()
	entryType, body := l.classifier.Classify(payload)
	entry, source, err := BuildEntry(entryType, body, priority, receivedAt)
	if err != nil {
		l.record("malformed")
		l.logger.Debug("dropping unparsable payload", "host", hostIP, "type", entryType.String(), "error", err)
		return
	}

	event := domain.QueuedEvent{
		ID:         uuid.NewString(),
		HostIP:     hostIP,
		SourceName: source,
		Facility:   facility,
		Priority:   priority,
		ReceivedAt: receivedAt,
		Entry:      entry,
	}
	if err := l.queue.Enqueue(ctx, event); err != nil {
		l.record("dropped")
		l.logger.Error("Failed to enqueue event, dropping", "event_id", event.ID, "error", err)
		return
	}
	l.record("accepted")
}

func (l *Listener) record(status string) {
	if l.metrics != nil {
		l.metrics.DatagramsTotal.WithLabelValues(status).Inc()
	}
}

// Close releases the socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
