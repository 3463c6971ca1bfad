package llm

import (
	"context"
	"math/rand"
	"time"
)

// Retry policy defaults, tunable via CallerConfig
const (
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 60 * time.Second
	DefaultRateLimitDelay = 60 * time.Second
)

// CallerConfig configures a RetryingCaller
type CallerConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RateLimitDelay time.Duration
}

// RetryingCaller wraps one logical model send with pre-call admission
// control, classified retry on failure and usage accounting on success.
// It composes the meter, accountant, tracker and compressor; the session
// loop owns turn lifecycle on top of it.
type RetryingCaller struct {
	meter      *UsageMeter
	accountant *CostAccountant
	tracker    *ConversationTracker
	compressor *ContextCompressor

	maxAttempts    int
	backoffBase    time.Duration
	backoffMax     time.Duration
	rateLimitDelay time.Duration

	sink  EventSink
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingCaller wires the caller over the core components. compressor
// may be nil when compression is disabled.
func NewRetryingCaller(cfg CallerConfig, meter *UsageMeter, accountant *CostAccountant, tracker *ConversationTracker, compressor *ContextCompressor) *RetryingCaller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = DefaultRateLimitDelay
	}
	return &RetryingCaller{
		meter:          meter,
		accountant:     accountant,
		tracker:        tracker,
		compressor:     compressor,
		maxAttempts:    cfg.MaxAttempts,
		backoffBase:    cfg.BackoffBase,
		backoffMax:     cfg.BackoffMax,
		rateLimitDelay: cfg.RateLimitDelay,
		sink:           NopSink{},
		sleep:          sleepContext,
	}
}

// SetEventSink routes retry and usage events to the given sink
func (c *RetryingCaller) SetEventSink(sink EventSink) {
	if sink != nil {
		c.sink = sink
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoffDelay computes the exponential backoff for a transient retry:
// base doubled per attempt plus up to one second of jitter, capped.
func (c *RetryingCaller) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase * (1 << attempt)
	delay += time.Duration(rand.Float64() * float64(time.Second))
	if delay > c.backoffMax {
		delay = c.backoffMax
	}
	return delay
}

// Call performs one send with rate-limit wait, classified retry and usage
// recording. Errors come back as *RateLimitError, *TransientError or
// *NonRetryableError per the taxonomy.
func (c *RetryingCaller) Call(ctx context.Context, session Session, content Content) (*Reply, error) {
	var lastErr error
	var lastDelay time.Duration

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.meter.WaitIfNeeded(ctx); err != nil {
			return nil, err
		}

		reply, err := session.Send(ctx, content)
		if err == nil {
			if reply != nil {
				record := c.accountant.TrackUsage(reply.Usage, session.Config().Model)
				if record != nil {
					c.sink.CallUsage(*record)
				}
			}
			return reply, nil
		}

		lastErr = err
		switch classifyError(err) {
		case classRateLimit:
			if attempt == c.maxAttempts-1 {
				return nil, &RateLimitError{Attempts: c.maxAttempts, LastDelay: lastDelay, Err: err}
			}
			delay := parseRetryDelay(err, c.rateLimitDelay)
			lastDelay = delay
			c.sink.RetryAttempt("rate_limit", attempt+1, c.maxAttempts, delay, err)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}

		case classTransient:
			if attempt == c.maxAttempts-1 {
				return nil, &TransientError{Attempts: c.maxAttempts, Err: err}
			}
			delay := c.backoffDelay(attempt)
			lastDelay = delay
			c.sink.RetryAttempt("transient", attempt+1, c.maxAttempts, delay, err)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}

		default:
			return nil, &NonRetryableError{Err: err}
		}
	}

	// Unreachable with maxAttempts >= 1, kept for symmetry with the loop
	return nil, &NonRetryableError{Err: lastErr}
}

// CallWithCompression is Call plus a pre-flight compression check. When the
// tracked context estimate has crossed the threshold, it compresses,
// restarts the session, resets the tracker and retries the same content
// once against the new session. The single-shot guard means a reset that
// somehow fails to shrink the estimate cannot recurse.
// The possibly-new session is returned so the loop can adopt it.
func (c *RetryingCaller) CallWithCompression(ctx context.Context, session Session, content Content) (*Reply, Session, error) {
	if c.compressor != nil && c.tracker.ShouldCompress() {
		priorTokens := c.tracker.ContextEstimate()
		userGoal := c.tracker.RecentUserGoal()

		newSession, _, err := c.compressor.CompressAndRestart(ctx, session, userGoal)
		if err == nil {
			session = newSession
			c.tracker.Reset(priorTokens)
			c.sink.CompressionTriggered(c.compressor.CompressionCount(), priorTokens)
		}
		// A failed restart keeps the old session; the call still proceeds.
	}

	reply, err := c.Call(ctx, session, content)
	return reply, session, err
}
