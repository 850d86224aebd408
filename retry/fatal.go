package retry

import "errors"

// retryableErr is the capability an error can implement to declare
// whether failing with it should consume further attempts. The
// declaration lives on the error value itself, not in a side channel.
type retryableErr interface {
	Retryable() bool
}

// fatalErr wraps an error as non-retryable.
type fatalErr struct {
	err error
}

func (f *fatalErr) Error() string   { return f.err.Error() }
func (f *fatalErr) Unwrap() error   { return f.err }
func (f *fatalErr) Retryable() bool { return false }

// Fatal marks an error as non-retryable: the executor fails the task
// immediately regardless of remaining attempts. A nil error returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalErr{err: err}
}

// IsRetryable reports whether failing with err should consume another
// attempt. Errors are retryable by default; an error anywhere in the
// chain implementing Retryable() bool overrides that.
func IsRetryable(err error) bool {
	for err != nil {
		if r, ok := err.(retryableErr); ok {
			return r.Retryable()
		}
		err = errors.Unwrap(err)
	}
	return true
}
