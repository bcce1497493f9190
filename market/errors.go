package market

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrSampleCountMismatch = fmt.Errorf("%w: sample count mismatch", ErrInvalidInput)
)
