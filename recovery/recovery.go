package recovery

// Strategy decides how parsing reacts to malformed input. Components report
// each problem with its location; the strategy answers with an Action.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	PageIndex  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

type Context interface{ Done() <-chan struct{} }

// Strict fails on the first error. This is the default for document-level
// structures, where a wrong guess corrupts everything downstream.
type Strict struct{}

func (Strict) OnError(Context, error, Location) Action { return ActionFail }

// Lenient skips malformed objects, bounded by MaxSkips to avoid pathological
// inputs consuming the whole scan. Used for per-page isolation.
type Lenient struct {
	MaxSkips int
	skipped  int
}

func (l *Lenient) OnError(_ Context, _ error, _ Location) Action {
	if l.MaxSkips > 0 && l.skipped >= l.MaxSkips {
		return ActionFail
	}
	l.skipped++
	return ActionSkip
}

// Skipped reports how many errors the strategy has absorbed so far.
func (l *Lenient) Skipped() int { return l.skipped }
