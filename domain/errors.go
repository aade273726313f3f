package domain

import "errors"

// ErrNotFound reports that a referenced task or attachment does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateClient reports a stream registration under an id that is
// already live. The original registration is kept.
var ErrDuplicateClient = errors.New("client id already connected")

// ValidationError reports malformed input such as an empty title or a
// status outside the fixed column set.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var verr ValidationError
	return errors.As(err, &verr)
}
