package render

import "errors"

var (
	ErrUnsupported = errors.New("job type not supported by protocol")
	ErrInvalidJob  = errors.New("invalid job")
)
