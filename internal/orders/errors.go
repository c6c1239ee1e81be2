package orders

import "errors"

var (
	ErrNotFound          = errors.New("orders: not found")
	ErrInvalidInput      = errors.New("orders: invalid input")
	ErrForbidden         = errors.New("orders: forbidden")
	ErrReasonRequired    = errors.New("orders: rejection reason is required")
	ErrInvalidTransition = errors.New("orders: invalid transition")
	ErrConflict          = errors.New("orders: concurrent update")
)
