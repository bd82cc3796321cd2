// Package resilience retries calls to flaky external services.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "external_call_attempts_total",
		Help: "Attempts against external services by operation and result",
	}, []string{"operation", "result"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "external_call_errors_total",
		Help: "External call failures by operation and error class",
	}, []string{"operation", "error_type"})
)

// Policy bounds a retry loop. Backoff grows linearly from Initial and is
// capped at Max.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 2 * time.Second}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, fails permanently, ctx ends or the
// attempts run out. The last error is returned.
func Do(ctx context.Context, operation string, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			attemptsTotal.WithLabelValues(operation, "success").Inc()
			if attempt > 1 {
				logger.Info("External call recovered",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		lastErr = err
		attemptsTotal.WithLabelValues(operation, "failure").Inc()
		errorsTotal.WithLabelValues(operation, Classify(err)).Inc()

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == p.Attempts {
			break
		}

		backoff := min(time.Duration(attempt)*p.Initial, p.Max)
		logger.Warn("External call failed, backing off",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", operation, ctx.Err(), lastErr)
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, p.Attempts, lastErr)
}

// Classify buckets an error for metrics.
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "network unreachable"):
		return "network"
	case strings.Contains(msg, "no such host"):
		return "dns"
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "unauthorized"):
		return "permission"
	default:
		return "unknown"
	}
}
