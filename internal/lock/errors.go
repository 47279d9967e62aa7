package lock

import "errors"

// ErrAcquireTimeout is returned when a lock could not be acquired within
// the caller's wall-clock budget. The frontier drops the affected write
// batch rather than retrying inline.
var ErrAcquireTimeout = errors.New("lock: acquire timed out")
