package fixed

import "errors"

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
	ErrScaleMismatch  = errors.New("fixed-point scale mismatch")
	ErrNegativeSqrt   = errors.New("square root of negative value")
	ErrInvalidScale   = errors.New("invalid fixed-point scale")
	ErrNonPositiveLog = errors.New("logarithm of non-positive value")
)
