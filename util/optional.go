package util

// Optional holds a value that may be absent. Used in place of
// sentinel values for results leaving the search code.
type Optional[T any] struct {
	Value T
	valid bool
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{Value: value, valid: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) HasValue() bool {
	return o.valid
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.valid
}

// OrElse returns the value if present, otherwise fallback.
func (o Optional[T]) OrElse(fallback T) T {
	if o.valid {
		return o.Value
	}
	return fallback
}
