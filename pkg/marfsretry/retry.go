// Package marfsretry provides exponential backoff retry for transient
// I/O (the resource manager wraps its DAL deletes in it), plus the one-shot retry the spec mandates for
// ne_rebuild: "a non-zero but non-negative return indicates residual
// damage, and implementations retry at most once."
package marfsretry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

// Config controls backoff shape and which error codes are retryable.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          bool
	RetryableCodes  []marfserr.Code
	OnRetry         func(attempt int, err error, delay time.Duration)
}

// DefaultConfig is a sensible default for DAL network operations.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with exponential backoff.
type Retryer struct{ config Config }

// New builds a Retryer, filling in zero-valued fields from DefaultConfig.
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	return &Retryer{config: config}
}

// Do runs fn, retrying with backoff until it succeeds, a non-retryable
// error is seen, MaxAttempts is exhausted, or ctx is canceled.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("marfsretry: canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		if attempt < r.config.MaxAttempts {
			delay := r.delayFor(attempt)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("marfsretry: canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("marfsretry: %d attempts exhausted: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}
	var marfsErr *marfserr.Error
	if stderr.As(err, &marfsErr) {
		if marfsErr.Retryable {
			return true
		}
		for _, code := range r.config.RetryableCodes {
			if marfsErr.Code() == code {
				return true
			}
		}
	}
	return false
}

func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// RebuildOnce implements the spec's ne_rebuild retry rule exactly: call fn
// once; if it reports residual damage (ok=false, err=nil), call it exactly
// one more time and return whatever that second call reports.
func RebuildOnce(fn func() (ok bool, err error)) (ok bool, err error) {
	ok, err = fn()
	if err != nil || ok {
		return ok, err
	}
	return fn()
}
