package syslog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/domain"
)

type chanQueue struct {
	events chan domain.QueuedEvent
	err    error
}

func (q *chanQueue) Enqueue(ctx context.Context, event domain.QueuedEvent) error {
	if q.err != nil {
		return q.err
	}
	q.events <- event
	return nil
}

func newTestListener(t *testing.T, q Enqueuer) (*Listener, *metrics.CollectorMetrics) {
	t.Helper()
	m := metrics.NewCollectorMetrics(prometheus.NewRegistry())
	l, err := Listen("127.0.0.1:0", 32768, NewClassifier(DefaultRules), q, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	return l, m
}

func TestListener_ReceivesDatagrams(t *testing.T) {
	q := &chanQueue{events: make(chan domain.QueuedEvent, 4)}
	l, m := newTestListener(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("garbage")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if _, err := conn.Write([]byte("<14>!!AS src|ERROR|boom|trace\x00")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	select {
	case ev := <-q.events:
		if ev.ID == "" {
			t.Error("expected event ID to be assigned")
		}
		if ev.HostIP != "127.0.0.1" || ev.SourceName != "src" {
			t.Errorf("unexpected identity %q %q", ev.HostIP, ev.SourceName)
		}
		if ev.Facility != 1 || ev.Priority != 6 || ev.Entry.Type() != domain.EntryAppserver {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	if got := counterValue(t, m.DatagramsTotal.WithLabelValues("malformed")); got != 1 {
		t.Errorf("expected 1 malformed datagram, got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListener_EnqueueFailureDropsEvent(t *testing.T) {
	q := &chanQueue{err: errors.New("queue closed")}
	l, m := newTestListener(t, q)
	defer l.Close()

	l.HandleDatagram(context.Background(), []byte("<13>web - hello\x00"), "10.0.0.9")

	if got := counterValue(t, m.DatagramsTotal.WithLabelValues("dropped")); got != 1 {
		t.Errorf("expected 1 dropped datagram, got %v", got)
	}
	if got := counterValue(t, m.DatagramsTotal.WithLabelValues("accepted")); got != 0 {
		t.Errorf("expected no accepted datagrams, got %v", got)
	}
}

func TestListener_NilMetrics(t *testing.T) {
	q := &chanQueue{events: make(chan domain.QueuedEvent, 1)}
	l, err := Listen("127.0.0.1:0", 32768, NewClassifier(DefaultRules), q, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer l.Close()

	l.HandleDatagram(context.Background(), []byte("garbage"), "10.0.0.9")
	l.HandleDatagram(context.Background(), []byte("<13>web - hello\x00"), "10.0.0.9")

	select {
	case ev := <-q.events:
		if ev.SourceName != "web" || ev.Entry.Text != "hello" {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected the valid datagram to be enqueued")
	}
}
