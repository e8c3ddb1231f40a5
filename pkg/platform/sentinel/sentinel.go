package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, locks and notifiers return
// these (optionally wrapped) so services can translate them into coded domain
// errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrAlreadyUsed: a natural key (asset serial, form public ID) is taken
//   - ErrLocked: a keyed lock could not be acquired before the deadline
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation and state-machine failures use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
	ErrLocked      = errors.New("locked")
	ErrUnavailable = errors.New("unavailable")
)
