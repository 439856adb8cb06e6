package abuse

import "errors"

// Sentinel errors for the abuse service layer.
var (
	ErrUnknownSignalKind          = errors.New("unknown signal kind")
	ErrInvalidScoreState          = errors.New("invalid score state, manual review required")
	ErrConcurrentMutation         = errors.New("concurrent score mutation")
	ErrSuspensionStoreUnavailable = errors.New("suspension store unavailable")
	ErrTenantNotFound             = errors.New("tenant not found")
	ErrEventNotFound              = errors.New("abuse event not found")
	ErrForbidden                  = errors.New("actor is not allowed to perform this operation")
	ErrInvalidInput               = errors.New("invalid input")
	ErrInvalidPolicy              = errors.New("invalid abuse policy")
	ErrAlreadySuspended           = errors.New("tenant already suspended")
	ErrNotSuspended               = errors.New("tenant is not suspended")
)
