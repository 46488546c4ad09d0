// Package validation provides helpers for contract enforcement in
// constructors and wiring code.
package validation

import "fmt"

// AssertNotNil panics if ptr is nil. Intended for constructors where a
// dependency is mandatory; a nil there is a programmer error, not a runtime
// condition.
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
