package reactive

// Derived is a value computed from other reactive state. It is never
// memoized: every Get re-runs the compute function, so reads always
// reflect the latest upstream values, including state reached through
// plain closures that no dependency can observe.
//
// Dependencies passed to Derive only feed change notifications; they do
// not limit what the compute function may read.
type Derived[T any] struct {
	compute func() T
	deps    []Observable
}

// Derive creates a Derived backed by compute. Change notifications from
// deps are forwarded to subscribers registered via OnChange.
func Derive[T any](compute func() T, deps ...Observable) *Derived[T] {
	return &Derived[T]{
		compute: compute,
		deps:    deps,
	}
}

// Get computes and returns the current value.
func (d *Derived[T]) Get() T {
	return d.compute()
}

// OnChange registers fn to run whenever any dependency notifies a change.
// The returned cancel function removes the registration from every
// dependency.
func (d *Derived[T]) OnChange(fn func()) (cancel func()) {
	cancels := make([]func(), 0, len(d.deps))
	for _, dep := range d.deps {
		cancels = append(cancels, dep.OnChange(fn))
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
