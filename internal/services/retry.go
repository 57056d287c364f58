package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryFactor    = 2.0
)

// RetryConfig bounds the retry budget for one stage call.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is slept after the first failure; each subsequent delay is
	// multiplied by Factor.
	BaseDelay time.Duration
	Factor    float64
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultRetryAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultRetryBaseDelay
	}
	if c.Factor <= 1 {
		c.Factor = defaultRetryFactor
	}
	return c
}

// RetryExecutor runs operations under exponential backoff. The budget is per
// call, not per job; only the final error is returned.
type RetryExecutor struct {
	cfg RetryConfig
}

// NewRetryExecutor builds an executor with the supplied budget.
func NewRetryExecutor(cfg RetryConfig) *RetryExecutor {
	return &RetryExecutor{cfg: cfg.normalized()}
}

// Run invokes op until it succeeds or the budget is exhausted. Errors that
// are not retry eligible abort immediately. Context cancellation interrupts
// the backoff sleep and is returned as the error.
func (e *RetryExecutor) Run(ctx context.Context, op func() error) error {
	cfg := e.cfg.normalized()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.BaseDelay
	policy.Multiplier = cfg.Factor
	policy.RandomizationFactor = 0
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0
	policy.Reset()

	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := op(); err != nil {
			if !RetryEligible(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bounded)
}
