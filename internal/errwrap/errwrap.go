// Package errwrap contains small error-composition helpers used throughout
// the master, so that call sites never have to special-case a nil error.
package errwrap

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Wrapf adds context onto an existing error chain. If err is nil, it returns
// nil, so callers can wrap unconditionally.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Append safely combines two errors, either of which may be nil. It is meant
// to be used as a running `reterr = Append(reterr, err)` accumulator, for
// example when closing several slave workers during shutdown.
func Append(reterr, err error) error {
	if reterr == nil {
		return err
	}
	if err == nil {
		return reterr
	}
	return multierror.Append(reterr, err)
}

// String renders an error as a string, returning "" for a nil error instead
// of panicking.
func String(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
