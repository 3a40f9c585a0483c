// Package capability models optional external systems that are wired once at
// startup and are either configured or not.
package capability

// Capability holds a handle to an external system, or nothing when the
// system was not configured.
type Capability[T any] struct {
	handle     T
	configured bool
}

// Configured wraps a live handle
func Configured[T any](handle T) Capability[T] {
	return Capability[T]{handle: handle, configured: true}
}

// Unconfigured returns the empty variant
func Unconfigured[T any]() Capability[T] {
	return Capability[T]{}
}

// Get returns the handle and whether it is present
func (c Capability[T]) Get() (T, bool) {
	return c.handle, c.configured
}

// IsConfigured reports whether a handle is present
func (c Capability[T]) IsConfigured() bool {
	return c.configured
}

// When builds a Capability from a handle and a presence flag. It is the usual
// way to turn "credentials were provided" into a capability at wiring time.
func When[T any](ok bool, build func() T) Capability[T] {
	if !ok {
		return Unconfigured[T]()
	}
	return Configured(build())
}
