package core

import "errors"

// Error codes reported to clients.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeInvalidMessage    = "invalid_message"
	ErrCodeNotRegistered     = "not_registered"
	ErrCodeDuplicateIdentity = "duplicate_identity"
	ErrCodeAlreadyRegistered = "already_registered"
	ErrCodeUserNotFound      = "user_not_found"
	ErrCodeGroupNotFound     = "group_not_found"
	ErrCodeNotAMember        = "not_a_member"
	ErrCodeAlreadyMember     = "already_member"
	ErrCodePersistence       = "persistence_error"
	ErrCodeRateLimited       = "rate_limited"
)

var (
	ErrDuplicateIdentity = errors.New("identity already in use")
	ErrAlreadyRegistered = errors.New("session already registered")
	ErrGroupNotFound     = errors.New("group not found")
	ErrNotAMember        = errors.New("not a member of the group")
	ErrAlreadyMember     = errors.New("already a member of the group")
	ErrUnknownMessage    = errors.New("unknown message")
	ErrActorNotEntitled  = errors.New("actor not entitled to acknowledge message")
	ErrHubStopped        = errors.New("hub stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// errorCode maps a sentinel error to the code clients see.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateIdentity):
		return ErrCodeDuplicateIdentity
	case errors.Is(err, ErrAlreadyRegistered):
		return ErrCodeAlreadyRegistered
	case errors.Is(err, ErrGroupNotFound):
		return ErrCodeGroupNotFound
	case errors.Is(err, ErrNotAMember):
		return ErrCodeNotAMember
	case errors.Is(err, ErrAlreadyMember):
		return ErrCodeAlreadyMember
	default:
		return ErrCodeBadRequest
	}
}
