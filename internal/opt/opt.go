// Package opt provides a small Optional sum type used to normalize nullable
// DTO fields once, at the service boundary.
//
// # What this package must NOT do
//
//   - Appear in exported types of public packages; callers resolve an
//     Optional to a concrete value before handing it out.
package opt

// Optional holds either a value of T or nothing.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps v as a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value of T.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// FromPtr maps a nil pointer to None and anything else to Some(*p).
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

func (o Optional[T]) IsPresent() bool {
	return o.ok
}

// Get returns the value and whether it was present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// OrElse returns the value when present, otherwise fallback.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// OrZero returns the value when present, otherwise the zero value of T.
func (o Optional[T]) OrZero() T {
	return o.value
}

// Filter keeps the value only when keep reports true.
func (o Optional[T]) Filter(keep func(T) bool) Optional[T] {
	if !o.ok || keep == nil || !keep(o.value) {
		return None[T]()
	}
	return o
}

// Map applies fn to a present value.
func Map[T, U any](o Optional[T], fn func(T) U) Optional[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(fn(o.value))
}
