package auth

import "errors"

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrConflict       = errors.New("auth: conflict")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrForbidden      = errors.New("auth: forbidden")
	ErrInvalidRole    = errors.New("auth: invalid role")
	ErrInvalidFeature = errors.New("auth: invalid feature")
)
