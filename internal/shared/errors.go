package shared

import "errors"

var (
	// ErrTenantMissing occurs when a request carries no tenant context.
	ErrTenantMissing = errors.New("tenant context missing")
	// ErrConcurrentModification occurs when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
