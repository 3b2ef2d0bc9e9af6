package tokenbucket

import (
	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/common/validation"
)

// Config holds configuration options for creating a new Bucket.
type Config struct {
	// Capacity is the maximum number of tokens that can be stored.
	Capacity int

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int
}

// Bucket is a discrete token bucket. Tokens are whole units; one token pays
// for one forwarded packet. Refill is driven externally, one token per Add
// call, so the bucket itself has no notion of time.
//
// Bucket is not safe for concurrent use. Callers serialize access, typically
// by driving it from a single discrete-event kernel.
type Bucket struct {
	capacity int
	tokens   int
}

// New creates a full bucket holding up to capacity tokens.
func New(capacity int) (*Bucket, error) {
	return NewWithConfigSafe(Config{
		Capacity:      capacity,
		InitialTokens: -1, // Start with full capacity
	})
}

// NewWithConfigSafe creates a bucket with validation that returns an error instead of panicking.
func NewWithConfigSafe(config Config) (*Bucket, error) {
	if err := validation.ValidatePositive("tokenbucket", "capacity", config.Capacity); err != nil {
		return nil, err
	}
	if config.InitialTokens > config.Capacity {
		return nil, gserrors.NewValidationError("tokenbucket", "initialTokens", config.InitialTokens, "exceeds capacity").
			WithHint("use a value between 0 and capacity, or -1 for a full bucket")
	}

	tokens := config.InitialTokens
	if tokens < 0 {
		tokens = config.Capacity
	}

	return &Bucket{
		capacity: config.Capacity,
		tokens:   tokens,
	}, nil
}

// TryTake consumes one token if one is available.
func (b *Bucket) TryTake() bool {
	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// Add deposits one token. It returns false when the bucket is already full,
// in which case the token is discarded rather than banked.
func (b *Bucket) Add() bool {
	if b.tokens >= b.capacity {
		return false
	}
	b.tokens++
	return true
}

// Tokens returns the number of tokens currently available.
func (b *Bucket) Tokens() int {
	return b.tokens
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() int {
	return b.capacity
}

// Full reports whether the bucket is at capacity.
func (b *Bucket) Full() bool {
	return b.tokens >= b.capacity
}

// Empty reports whether no tokens are available.
func (b *Bucket) Empty() bool {
	return b.tokens == 0
}

// Reset refills the bucket to capacity.
func (b *Bucket) Reset() {
	b.tokens = b.capacity
}
