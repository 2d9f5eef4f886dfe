package domain

import "errors"

// Resolution and registration errors, surfaced to the station as a Rejected
// response.
var (
	ErrUnknownTenant        = errors.New("unknown tenant")
	ErrUnknownStation       = errors.New("unknown charging station")
	ErrMissingToken         = errors.New("registration token required")
	ErrInvalidToken         = errors.New("registration token invalid, expired or revoked")
	ErrAttributeMismatch    = errors.New("station attributes do not match registered values")
	ErrStationNotRegistered = errors.New("charging station not registered")
)

// Authorization errors, surfaced as idTagInfo status Invalid/Blocked/Expired.
var (
	ErrTagInvalid         = errors.New("tag invalid")
	ErrTagBlocked         = errors.New("tag blocked")
	ErrTagExpired         = errors.New("tag expired")
	ErrTagTooLong         = errors.New("tag exceeds the 20 character OCPP limit")
	ErrStationNotPublic   = errors.New("roaming tag on a non-public station")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrNotAuthorizedOnSite = errors.New("tag not authorized on this site area")
)

// Transaction state errors.
var (
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrTransactionAlreadyStopped = errors.New("transaction already stopped")
	ErrConnectorNotFound         = errors.New("connector not found")
	ErrWrongTransactionDataShape = errors.New("transactionData does not match the station OCPP version")
)
