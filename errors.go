package querykit

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey  = errors.New("querykit: invalid key")
	ErrEmptyPrefix = errors.New("querykit: empty prefix")
	ErrClosed      = errors.New("querykit: cache closed")
)

// InvalidateError is returned when the generation bump for a prefix failed.
// The cache then falls back to deleting the watched entries under the prefix;
// DelErr carries any failures of that fallback.
type InvalidateError struct {
	Prefix  string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Prefix, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Prefix, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Prefix, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Prefix)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
