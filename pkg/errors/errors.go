package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrRoundClosed            = errors.New("round closed")
	ErrInvalidSelection       = errors.New("invalid selection")
	ErrDuplicateSettlement    = errors.New("round already settled")
	ErrMatchExpired           = errors.New("match expired")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrTransientStore         = errors.New("transient store failure")

	ErrTableNotFound   = errors.New("table not found")
	ErrRoundNotFound   = errors.New("round not found")
	ErrMatchNotFound   = errors.New("match not found")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrSessionNotFound = errors.New("session not found")

	ErrRevisionRejected   = errors.New("cash-out revision rejected")
	ErrMatchPending       = errors.New("match request already pending")
	ErrMatchNotActive     = errors.New("match not active")
	ErrPhaseRegression    = errors.New("phase transition not allowed")
	ErrRateLimited        = errors.New("too many requests")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPlayerBanned       = errors.New("player banned")
	ErrSessionClosed      = errors.New("session closed")
	ErrUnknownVariant     = errors.New("unknown variant")
)

// Transient marks a store failure as retryable. Nil stays nil and already
// classified errors are returned untouched.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransientStore, err)
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrRoundClosed, "round_closed"},
	{ErrInvalidSelection, "invalid_selection"},
	{ErrDuplicateSettlement, "duplicate_settlement"},
	{ErrMatchExpired, "match_expired"},
	{ErrAuthenticationRequired, "authentication_required"},
	{ErrTransientStore, "transient_store_failure"},
	{ErrTableNotFound, "table_not_found"},
	{ErrRoundNotFound, "round_not_found"},
	{ErrMatchNotFound, "match_not_found"},
	{ErrPlayerNotFound, "player_not_found"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrRevisionRejected, "revision_rejected"},
	{ErrMatchPending, "match_pending"},
	{ErrMatchNotActive, "match_not_active"},
	{ErrPhaseRegression, "phase_regression"},
	{ErrRateLimited, "rate_limited"},
	{ErrUsernameTaken, "username_taken"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrPlayerBanned, "player_banned"},
	{ErrSessionClosed, "session_closed"},
	{ErrUnknownVariant, "unknown_variant"},
}

// Code returns the stable reason string sent to clients with a rejection.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}

// IsRejection reports whether err is a validation outcome that should be
// returned to the requesting session rather than logged as a failure.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrRoundClosed),
		errors.Is(err, ErrInvalidSelection),
		errors.Is(err, ErrRevisionRejected),
		errors.Is(err, ErrMatchPending),
		errors.Is(err, ErrMatchNotActive),
		errors.Is(err, ErrMatchExpired),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrRateLimited):
		return true
	}
	return false
}
