package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indica store inacessível ou timeout; os guards fazem fail-open.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")

	// ErrConfigInvalid indica configuração rejeitada; a anterior continua ativa.
	ErrConfigInvalid = errors.New("ratelimit: invalid configuration")

	// ErrUnauthorized indica ação administrativa sem privilégio.
	ErrUnauthorized = errors.New("ratelimit: unauthorized admin action")

	ErrInvalidIdentifier = errors.New("ratelimit: invalid identifier")
)

// ValidationError descreve o campo rejeitado na validação de configuração.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrConfigInvalid }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthError é retornado pelas operações administrativas quando o principal não
// tem o papel exigido.
type AuthError struct {
	Principal string
	Action    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("principal %q is not allowed to %s", e.Principal, e.Action)
}

func (e *AuthError) Unwrap() error { return ErrUnauthorized }

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsConfigInvalid(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}
