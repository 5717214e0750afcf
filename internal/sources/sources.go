// Package sources provides settlement and internal event providers for the
// reconciliation service.
package sources

import "fmt"

// ProviderError wraps a provider fetch failure and carries whether the
// operation is worth repeating.
type ProviderError struct {
	Provider  string
	Op        string
	Err       error
	Transient bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the fetch could succeed.
func (e *ProviderError) Retryable() bool { return e.Transient }
