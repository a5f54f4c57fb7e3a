package errs

import (
	"errors"
	"fmt"
)

var ErrOrganizationNotResolved = errors.New("organization not resolved")

// SignatureError means the payload was not produced by the provider. Nothing is persisted.
type SignatureError struct {
	Err error
}

func (t SignatureError) Error() string {
	return fmt.Sprintf("error verifying signature: %v", t.Err)
}

func (t SignatureError) Unwrap() error {
	return t.Err
}

// ProviderError wraps a failed live call to the payment provider.
type ProviderError struct {
	Op  string
	Err error
}

func (t ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", t.Op, t.Err)
}

func (t ProviderError) Unwrap() error {
	return t.Err
}

type RetryableError struct {
	Err error
}

func (t RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", t.Err)
}

func (t RetryableError) Unwrap() error {
	return t.Err
}
