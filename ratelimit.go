package helpdesk

import (
	"context"
	"strconv"
	"time"

	"github.com/maxbolgarin/errm"
)

const (
	// DefaultMinInterval is the minimal interval between two accepted user messages.
	DefaultMinInterval = 1800 * time.Millisecond
	// DefaultWarnInterval is the minimal interval between two "too fast" warnings.
	DefaultWarnInterval = 6 * time.Second
	// DefaultAckInterval is the minimal interval between two "sent to support" acknowledgements.
	DefaultAckInterval = 12 * time.Second

	rateMarkTTL = time.Minute
)

// Verdict is a result of RateLimiter.Check.
type Verdict struct {
	Allowed bool
	// ShouldWarn is set only for denied messages, when the user was not warned recently.
	ShouldWarn bool
}

// RateLimiter is a per-user interval gate. Denied messages are dropped, not queued.
type RateLimiter struct {
	store        KeyValueStore
	minInterval  time.Duration
	warnInterval time.Duration
	ackInterval  time.Duration
	log          Logger
	now          func() time.Time
}

// RateLimitConfig contains intervals of RateLimiter. Zero values are replaced with defaults.
type RateLimitConfig struct {
	MinInterval  time.Duration `yaml:"min_interval" json:"min_interval" env:"HELPDESK_RATE_MIN_INTERVAL"`
	WarnInterval time.Duration `yaml:"warn_interval" json:"warn_interval" env:"HELPDESK_RATE_WARN_INTERVAL"`
	AckInterval  time.Duration `yaml:"ack_interval" json:"ack_interval" env:"HELPDESK_RATE_ACK_INTERVAL"`
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter(store KeyValueStore, cfg RateLimitConfig, log Logger) *RateLimiter {
	return &RateLimiter{
		store:        store,
		minInterval:  positiveOr(cfg.MinInterval, DefaultMinInterval),
		warnInterval: positiveOr(cfg.WarnInterval, DefaultWarnInterval),
		ackInterval:  positiveOr(cfg.AckInterval, DefaultAckInterval),
		log:          orNoop(log),
		now:          time.Now,
	}
}

// Check decides if the user message should be processed.
// The mark is taken with SetIfAbsent, so concurrent messages of one user let only one through.
// It fails open: store errors allow the message.
func (r *RateLimiter) Check(ctx context.Context, userID int64) Verdict {
	now := r.now()
	stamp := i64(now.UnixMilli())

	ok, err := r.store.SetIfAbsent(ctx, rateKey(userID), stamp, r.minInterval)
	if err != nil {
		r.log.Error("cannot save rate mark", "error", err, "user_id", userID)
		return Verdict{Allowed: true}
	}
	if ok {
		return Verdict{Allowed: true}
	}

	last, err := r.mark(ctx, rateKey(userID))
	if err != nil {
		r.log.Error("cannot read rate mark", "error", err, "user_id", userID)
		return Verdict{Allowed: true}
	}
	if !last.IsZero() && now.Sub(last) < r.minInterval {
		return Verdict{ShouldWarn: r.shouldWarn(ctx, userID, now)}
	}

	// The store keeps the mark longer than minInterval, e.g. DynamoDB expires items by seconds.
	// This path is not atomic, but it is only reached after the interval has passed.
	if err := r.store.Set(ctx, rateKey(userID), stamp, r.minInterval); err != nil {
		r.log.Error("cannot save rate mark", "error", err, "user_id", userID)
	}
	return Verdict{Allowed: true}
}

// ShouldAck returns true if the user may get a "sent to support" acknowledgement now.
func (r *RateLimiter) ShouldAck(ctx context.Context, userID int64) bool {
	ok, err := r.store.SetIfAbsent(ctx, ackKey(userID), "1", r.ackInterval)
	if err != nil {
		r.log.Error("cannot save ack mark", "error", err, "user_id", userID)
		return false
	}
	return ok
}

func (r *RateLimiter) shouldWarn(ctx context.Context, userID int64, now time.Time) bool {
	lastWarn, err := r.mark(ctx, rateNotifyKey(userID))
	if err != nil {
		r.log.Error("cannot read warn mark", "error", err, "user_id", userID)
		return false
	}
	if !lastWarn.IsZero() && now.Sub(lastWarn) <= r.warnInterval {
		return false
	}
	if err := r.store.Set(ctx, rateNotifyKey(userID), i64(now.UnixMilli()), max(rateMarkTTL, r.warnInterval)); err != nil {
		r.log.Error("cannot save warn mark", "error", err, "user_id", userID)
	}
	return true
}

func (r *RateLimiter) mark(ctx context.Context, key string) (time.Time, error) {
	raw, err := r.store.Get(ctx, key)
	switch {
	case errm.Is(err, ErrNotFound):
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errm.Wrap(err, "parse mark", "key", key)
	}
	return time.UnixMilli(ms), nil
}

func positiveOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
