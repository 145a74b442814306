package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidCriteria      = errors.New("invalid search criteria")
	ErrVersionConflict      = errors.New("version conflict")
	ErrPreconditionRequired = errors.New("precondition required")
)
