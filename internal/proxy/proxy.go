// Package proxy finds concrete pool implementations behind wrapper layers.
package proxy

// maxDepth bounds unwrapping so a wrapper cycle cannot loop forever.
const maxDepth = 16

// Wrapper is implemented by types that delegate to another resource.
type Wrapper interface {
	Unwrap() any
}

// Unwrap returns the first value of type T found by walking resource and
// the chain of Wrapper.Unwrap results. The walk stops at a nil target, at a
// value that is not a Wrapper, or after maxDepth layers.
func Unwrap[T any](resource any) (T, bool) {
	for depth := 0; resource != nil && depth <= maxDepth; depth++ {
		if target, ok := resource.(T); ok {
			return target, true
		}
		w, ok := resource.(Wrapper)
		if !ok {
			break
		}
		resource = w.Unwrap()
	}
	var zero T
	return zero, false
}
