package prover

import "errors"

var (
	ErrBackendFailure = errors.New("proof backend failure")
	ErrShapeMismatch  = errors.New("trace shape does not match verifying key")
	ErrDegreeTooSmall = errors.New("circuit does not fit in 2^degree rows")
	ErrInvalidKeys    = errors.New("invalid key material")
)
