package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// argument errors
	ErrInvalidArgument = errors.New("invalid argument")

	// critical section errors
	ErrGuardAcquisition = errors.New("critical section could not be acquired")
	ErrGuardNotHeld     = errors.New("critical section is not held by caller")

	// persistence errors
	ErrStoreFailure = errors.New("lease store failure")

	// returned by clients when another session holds the lock
	ErrLockHeld = errors.New("lock is held by another session")
)

// stores join name and session with this byte, so neither may contain it
const KeySeparator = "\x00"

// checks the identity pair every store operation is keyed by
func ValidateKey(name, sessionID string) error {
	if name == "" {
		return fmt.Errorf("%w: empty lock name", ErrInvalidArgument)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	}
	if strings.Contains(name, KeySeparator) {
		return fmt.Errorf("%w: lock name contains a NUL byte", ErrInvalidArgument)
	}
	if strings.Contains(sessionID, KeySeparator) {
		return fmt.Errorf("%w: session id contains a NUL byte", ErrInvalidArgument)
	}
	return nil
}
