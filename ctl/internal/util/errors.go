package util

import "errors"

type ExitCode int

const (
	Success        ExitCode = 0
	GeneralError   ExitCode = 1
	PartialSuccess ExitCode = 2
)

// CtlError carries the exit code assetctl should terminate with. Commands return it when the
// outcome is not a plain failure, for example when some files of a sync failed.
type CtlError struct {
	err  error
	code ExitCode
}

func NewCtlError(err error, code ExitCode) CtlError {
	return CtlError{err: err, code: code}
}

func (e CtlError) Error() string {
	return e.err.Error()
}

func (e CtlError) Unwrap() error {
	return e.err
}

func (e CtlError) GetExitCode() ExitCode {
	return e.code
}

// ExitCodeFor maps an error returned by a command to the process exit code.
func ExitCodeFor(err error) ExitCode {
	if err == nil {
		return Success
	}
	var ctlErr CtlError
	if errors.As(err, &ctlErr) {
		return ctlErr.GetExitCode()
	}
	return GeneralError
}
