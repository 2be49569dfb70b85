package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the pipeline and its adapters wraps
// exactly one of these so callers can branch with errors.Is.
var (
	// ErrNetwork covers unreachable sources, transport failures and non-2xx responses.
	ErrNetwork = errors.New("network error")

	// ErrData covers malformed payloads and missing expected fields or columns.
	ErrData = errors.New("data error")

	// ErrConfig covers invalid taxonomy identifiers and translation sources.
	ErrConfig = errors.New("config error")

	// ErrCacheMiss is returned by result stores when nothing is cached for a taxonomy.
	ErrCacheMiss = errors.New("cache miss")
)

// StageError records which pipeline stage failed for which taxonomy.
type StageError struct {
	Stage    string
	Taxonomy Taxonomy
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Taxonomy, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// DataErrorf formats a message and wraps it with ErrData.
func DataErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}
