package coordstore

import "errors"

// ErrNotFound is returned when a key, field, or list element does not
// exist (including a BLPop that timed out). Callers are expected to
// branch on it rather than parse client error strings.
var ErrNotFound = errors.New("coordstore: not found")

// IsNotFound reports whether err means "no such key/field/element".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
