package types

import "errors"

// Sentinel errors for TradeEvent.Validate. Kept distinct so callers (the
// stream decoder) can decide whether to reject or sanitize a violating
// trade without string-matching error text.
var (
	ErrInvalidPrice  = errors.New("trade price out of [0,1] range")
	ErrInvalidSize   = errors.New("trade size is negative")
	ErrTimestampSkew = errors.New("trade timestamp too far in the future")
)
