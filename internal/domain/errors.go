package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrSequenceGap           = errors.New("sequence gap")
	ErrStaleBook             = errors.New("book is stale")
	ErrNoLiquidity           = errors.New("no liquidity")
	ErrStaleOpportunity      = errors.New("stale opportunity")
	ErrCircuitBreakerTripped = errors.New("daily loss circuit breaker tripped")
	ErrCapitalCapExceeded    = errors.New("per-trade capital cap exceeded")
	ErrTradingHalted         = errors.New("trading halted")
	ErrUnhedgedExposure      = errors.New("unhedged exposure")
	ErrSigningFailed         = errors.New("signing failed")
	ErrWSDisconnect          = errors.New("websocket disconnected")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited")
	ErrSessionHeld           = errors.New("trading session held by another instance")
)
