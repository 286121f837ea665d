package invitations

import "errors"

// Error taxonomy. Validation and authorization errors reject before any
// mutation; conflict errors are retryable after a re-read; not-found and
// expiry are terminal for the caller.
var (
	ErrInvalidRecipient          = errors.New("Invalid recipient address")
	ErrMessageTooLong            = errors.New("Custom message exceeds the allowed length")
	ErrDuplicateActiveInvitation = errors.New("An active invitation already exists for this recipient")
	ErrInvalidTransition         = errors.New("Invitation is no longer in a state that allows this operation")
	ErrConcurrentModification    = errors.New("Invitation was modified concurrently, please retry")
	ErrInvitationNotFound        = errors.New("Invitation not found")
	ErrTokenNotFound             = errors.New("Invalid invitation token")
	ErrInvitationExpired         = errors.New("Invitation has expired")
)
