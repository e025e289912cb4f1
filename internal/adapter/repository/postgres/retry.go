package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/logrelay/internal/domain"
)

// RetryPolicy controls how often a store operation is retried after a
// connection error. Attempts < 0 retries forever.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// ConnectionError is returned once a policy's attempts are used up.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WithRetry runs op until it succeeds, fails with a non-connection error, or
// the policy gives up. The database/sql pool reconnects on its own, so a retry
// is simply a new call.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, onRetry func(), op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; policy.Attempts < 0 || i <= policy.Attempts; i++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsConnectionError(err) {
			return zero, err
		}
		lastErr = err
		if policy.Attempts >= 0 && i == policy.Attempts {
			break
		}

		logger.Warn("Store connection lost, retrying...", "attempt", i+1, "error", err)
		if onRetry != nil {
			onRetry()
		}
		select {
		case <-time.After(policy.Interval):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, &ConnectionError{Attempts: policy.Attempts + 1, Err: lastErr}
}

// IsConnectionError reports whether err means the database could not be
// reached, as opposed to the statement itself being rejected.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
			return true
		}
		return pqErr.Code.Class() == "08"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryingStore wraps a domain.Store so every call is retried on connection
// errors according to policy.
type RetryingStore struct {
	next    domain.Store
	policy  RetryPolicy
	retries prometheus.Counter
	logger  *slog.Logger
}

// NewRetryingStore wraps next. retries may be nil.
func NewRetryingStore(next domain.Store, policy RetryPolicy, retries prometheus.Counter, logger *slog.Logger) *RetryingStore {
	return &RetryingStore{
		next:    next,
		policy:  policy,
		retries: retries,
		logger:  logger.With("component", "retrying_store"),
	}
}

func (r *RetryingStore) onRetry() {
	if r.retries != nil {
		r.retries.Inc()
	}
}

func (r *RetryingStore) do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, r.policy, r.logger, r.onRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (r *RetryingStore) FindHostByIP(ctx context.Context, ip string) (*domain.Host, error) {
	return WithRetry(ctx, r.policy, r.logger, r.onRetry, func(ctx context.Context) (*domain.Host, error) {
		return r.next.FindHostByIP(ctx, ip)
	})
}

func (r *RetryingStore) InsertHost(ctx context.Context, host *domain.Host) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.InsertHost(ctx, host) })
}

func (r *RetryingStore) TouchHost(ctx context.Context, host *domain.Host) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.TouchHost(ctx, host) })
}

func (r *RetryingStore) FindSourceByName(ctx context.Context, name string) (*domain.Source, error) {
	return WithRetry(ctx, r.policy, r.logger, r.onRetry, func(ctx context.Context) (*domain.Source, error) {
		return r.next.FindSourceByName(ctx, name)
	})
}

func (r *RetryingStore) InsertSource(ctx context.Context, source *domain.Source) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.InsertSource(ctx, source) })
}

func (r *RetryingStore) InsertLog(ctx context.Context, record *domain.LogRecord) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.InsertLog(ctx, record) })
}

func (r *RetryingStore) Close() error {
	return r.next.Close()
}
