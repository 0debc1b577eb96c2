package spell

import (
	"errors"
	"fmt"

	"github.com/Shopify/go-lua"
	log "github.com/sirupsen/logrus"

	"magikcraft/internal/magik"
	"magikcraft/internal/scheduler"
)

const callbacksKey = "magik.callbacks"

var (
	ErrUnknownSpell     = errors.New("unknown spell")
	ErrClosed           = errors.New("spell runtime closed")
	ErrScriptTooLarge   = errors.New("spell script too large")
	ErrInvalidSpellName = errors.New("invalid spell name")
)

// sandboxed globals are removed from every state.
var sandboxed = []string{"os", "io", "dofile", "loadfile", "require", "package", "debug"}

// Runtime is the Lua state of one session. A spell is any global function
// a loaded script defines; casting calls it with the given arguments.
//
// Runtime is not safe for concurrent use. Load, Cast, Close and every timer
// callback must run on the scheduler loop goroutine.
type Runtime struct {
	magik          *magik.Magik
	state          *lua.State
	maxSourceBytes int

	nextRef int
	refs    map[scheduler.Handle][]int
	live    int
	closed  bool

	log *log.Entry
}

// NewRuntime creates the Lua state for m's session. Scripts longer than
// maxSourceBytes are refused; zero means no limit.
func NewRuntime(m *magik.Magik, maxSourceBytes int) *Runtime {
	session := m.Session()
	r := &Runtime{
		magik:          m,
		state:          lua.NewState(),
		maxSourceBytes: maxSourceBytes,
		refs:           make(map[scheduler.Handle][]int),
		log: log.WithFields(log.Fields{
			"session": session.ID,
			"player":  session.Player,
		}),
	}
	lua.OpenLibraries(r.state)
	for _, name := range sandboxed {
		r.state.PushNil()
		r.state.SetGlobal(name)
	}
	r.register()
	m.Timers().OnRelease(r.release)
	return r
}

// Load runs source, which usually defines one or more spell functions.
func (r *Runtime) Load(name, source string) error {
	if r.closed {
		return ErrClosed
	}
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidSpellName)
	}
	if r.maxSourceBytes > 0 && len(source) > r.maxSourceBytes {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrScriptTooLarge, len(source), r.maxSourceBytes)
	}

	l := r.state
	top := l.Top()
	defer l.SetTop(top)

	if err := lua.LoadBuffer(l, source, name, ""); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	r.log.WithField("script", name).Debug("[Spell] script loaded")
	return nil
}

// Cast calls the spell function with args and returns what it returns.
func (r *Runtime) Cast(spell string, args ...any) ([]any, error) {
	if r.closed {
		return nil, ErrClosed
	}
	l := r.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(spell)
	if !l.IsFunction(-1) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpell, spell)
	}
	for _, arg := range args {
		pushValue(l, arg)
	}
	if err := l.ProtectedCall(len(args), lua.MultipleReturns, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", spell, err)
	}

	results := make([]any, 0, l.Top()-top)
	for i := top + 1; i <= l.Top(); i++ {
		results = append(results, luaToGo(l, i))
	}
	r.log.WithField("spell", spell).Debug("[Spell] cast")
	return results, nil
}

// Close cancels the session's timers and drops the Lua state.
func (r *Runtime) Close() {
	if r.closed {
		return
	}
	r.magik.Close()
	r.closed = true
	r.state = nil
	r.log.Debug("[Spell] runtime closed")
}

// Callbacks counts Lua functions still held for pending timers.
func (r *Runtime) Callbacks() int {
	return r.live
}

func (r *Runtime) Magik() *magik.Magik {
	return r.magik
}

func (r *Runtime) ref(l *lua.State, index int) int {
	index = l.AbsIndex(index)
	r.nextRef++
	ref := r.nextRef

	l.Field(lua.RegistryIndex, callbacksKey)
	l.PushValue(index)
	l.RawSetInt(-2, ref)
	l.Pop(1)
	r.live++
	return ref
}

func (r *Runtime) unref(ref int) {
	r.live--
	if r.state == nil {
		return
	}
	l := r.state
	l.Field(lua.RegistryIndex, callbacksKey)
	l.PushNil()
	l.RawSetInt(-2, ref)
	l.Pop(1)
}

// hold ties refs to a timer; they are freed when the timer is released.
func (r *Runtime) hold(handle scheduler.Handle, refs ...int) {
	r.refs[handle] = append(r.refs[handle], refs...)
}

func (r *Runtime) release(handle scheduler.Handle) {
	refs, ok := r.refs[handle]
	if !ok {
		return
	}
	delete(r.refs, handle)
	for _, ref := range refs {
		r.unref(ref)
	}
}

// callback calls the function stored under ref.
func (r *Runtime) callback(ref int) scheduler.Callback {
	return func() error {
		if r.closed {
			return nil
		}
		l := r.state
		top := l.Top()
		defer l.SetTop(top)

		l.Field(lua.RegistryIndex, callbacksKey)
		l.RawGetInt(-1, ref)
		l.Remove(-2)
		if !l.IsFunction(-1) {
			return nil
		}
		return l.ProtectedCall(0, 0, 0)
	}
}
