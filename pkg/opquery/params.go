package opquery

import (
	"github.com/opquery-io/opquery/pkg/reactive"
)

// Params is a path/query parameter set keyed by placeholder name.
type Params map[string]any

// Source supplies the current parameter set for an endpoint. The binding
// layer re-reads it before every resolution, so implementations backed by
// mutable state are observed at dispatch time, not construction time.
//
// Sources that can push change notifications should also implement
// reactive.Observable; the binding layer subscribes when it can and falls
// back to read-time re-evaluation when it cannot (accessor functions).
type Source interface {
	// Current returns the parameter set as of this read. A nil map means
	// "no parameters provided".
	Current() Params
}

// StaticParams returns a Source over a fixed parameter set.
func StaticParams(params Params) Source {
	return staticSource(params)
}

type staticSource Params

func (s staticSource) Current() Params {
	return Params(s)
}

// FuncParams returns a Source that invokes fn on every read. The function
// is never memoized across reads, since its closure may read external
// mutable state.
func FuncParams(fn func() Params) Source {
	return funcSource(fn)
}

type funcSource func() Params

func (f funcSource) Current() Params {
	return f()
}

// CellParams returns a Source backed by a reactive cell. The binding layer
// re-resolves paths, cache keys, and enablement whenever the cell changes.
func CellParams(cell *reactive.Cell[Params]) Source {
	return &cellSource{cell: cell}
}

type cellSource struct {
	cell *reactive.Cell[Params]
}

func (c *cellSource) Current() Params {
	return c.cell.Get()
}

func (c *cellSource) OnChange(fn func()) (cancel func()) {
	return c.cell.OnChange(fn)
}

// Condition supplies the current value of a boolean option that may be
// static, reactive, or computed. A nil Condition means "true".
type Condition interface {
	Current() bool
}

// Bool returns a static Condition.
func Bool(v bool) Condition {
	return boolCondition(v)
}

type boolCondition bool

func (b boolCondition) Current() bool {
	return bool(b)
}

// FuncCondition returns a Condition that invokes fn on every read.
func FuncCondition(fn func() bool) Condition {
	return funcCondition(fn)
}

type funcCondition func() bool

func (f funcCondition) Current() bool {
	return f()
}

// CellCondition returns a Condition backed by a reactive cell.
func CellCondition(cell *reactive.Cell[bool]) Condition {
	return &cellCondition{cell: cell}
}

type cellCondition struct {
	cell *reactive.Cell[bool]
}

func (c *cellCondition) Current() bool {
	return c.cell.Get()
}

func (c *cellCondition) OnChange(fn func()) (cancel func()) {
	return c.cell.OnChange(fn)
}

// ObservableOf returns the reactive.Observable behind v when it has one.
// Static values and plain functions are not observable; their consumers
// re-read them on each reactive tick instead.
func ObservableOf(v any) (reactive.Observable, bool) {
	obs, ok := v.(reactive.Observable)

	return obs, ok
}
