// Package reactive provides the small push-based state primitives the
// opquery binding layer is built on: Cell for writable state and Derived
// for values recomputed from other state on every read.
//
// A Cell holds a single value that can be read, written, and subscribed
// to. A Derived wraps a pure function of current state; reading it always
// reflects the latest upstream values, and change notifications from its
// declared dependencies fan in to its own subscribers.
//
//	enabled := reactive.NewCell(true)
//	label := reactive.Derive(func() string {
//		if enabled.Get() {
//			return "on"
//		}
//		return "off"
//	}, enabled)
//
//	cancel := label.OnChange(func() { fmt.Println(label.Get()) })
//	defer cancel()
//	enabled.Set(false) // prints "off"
package reactive
