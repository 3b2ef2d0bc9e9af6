// Package validation provides common validation utilities for configuration
// parameters across goshaper.
//
// Every helper returns a *errors.ValidationError, so callers can rely on
// errors.Is(err, errors.ErrInvalidConfiguration) regardless of which check
// failed.
package validation
