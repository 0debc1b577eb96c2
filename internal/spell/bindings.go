package spell

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Shopify/go-lua"

	"magikcraft/internal/magik"
	"magikcraft/internal/scheduler"
)

// register installs the magik table, reachable both as the global magik
// and as magikcraft.io, and routes print to dixit.
func (r *Runtime) register() {
	l := r.state
	registerProxyTypes(l)

	l.NewTable()
	l.SetField(lua.RegistryIndex, callbacksKey)

	l.NewTable()
	lua.SetFunctions(l, r.functions(), 0)
	r.pushMemento(l)
	l.SetField(-2, "memento")

	l.PushValue(-1)
	l.SetGlobal("magik")

	l.NewTable()
	l.PushValue(-2)
	l.SetField(-2, "io")
	l.SetGlobal("magikcraft")
	l.Pop(1)

	l.PushGoFunction(r.print)
	l.SetGlobal("print")
}

func (r *Runtime) functions() []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "setTimeout", Function: r.setTimeout},
		{Name: "setInterval", Function: r.setInterval},
		{Name: "clearInterval", Function: r.clearInterval},
		{Name: "doAfter", Function: r.doAfter},
		{Name: "doNTimes", Function: r.doNTimes},
		{Name: "exmemento", Function: r.exmemento},
		{Name: "global", Function: r.global},
		{Name: "getPlugin", Function: r.getPlugin},
		{Name: "getSender", Function: r.getSender},
		{Name: "volare", Function: r.volare},
		{Name: "aspecto", Function: r.aspecto},
		{Name: "caldarium", Function: r.caldarium},
		{Name: "stella", Function: r.stella},
		{Name: "declaro", Function: r.declaro},
		{Name: "shakti", Function: r.shakti},
		{Name: "satio", Function: r.satio},
		{Name: "random", Function: r.random},
		{Name: "dixit", Function: r.dixit},
		{Name: "exsultus", Function: r.exsultus},
		{Name: "hic", Function: r.hic},
		{Name: "iacta", Function: r.iacta},
		{Name: "ianuae", Function: r.ianuae},
		{Name: "incendium", Function: r.incendium},
		{Name: "infierno", Function: r.infierno},
	}
}

// pushMemento pushes a callable table: memento(value) replaces the whole
// memory, memento(key, value) sets one field.
func (r *Runtime) pushMemento(l *lua.State) {
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "setItem", Function: r.setItem},
		{Name: "getItem", Function: r.getItem},
	}, 0)
	l.NewTable()
	l.PushGoFunction(r.mementoCall)
	l.SetField(-2, "__call")
	l.SetMetaTable(-2)
}

func raise(l *lua.State, err error) int {
	lua.Errorf(l, "%s", err.Error())
	return 0
}

const maxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// millis converts the millisecond count at index. Negative counts pass
// through for the scheduler to refuse.
func millis(l *lua.State, index int, ms float64) time.Duration {
	switch {
	case math.IsNaN(ms):
		lua.ArgumentError(l, index, "milliseconds expected, got nan")
	case ms > maxMillis:
		lua.ArgumentError(l, index, fmt.Sprintf("%v ms is too large", ms))
	case ms < -maxMillis:
		return -time.Millisecond
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func checkLocation(l *lua.State, index int) magik.Location {
	loc, err := magik.LocationFrom(luaToGo(l, index))
	if err != nil {
		lua.ArgumentError(l, index, err.Error())
	}
	return loc
}

// pushHandle hands a new timer to the script. Refs are tied to the timer,
// or freed at once when no timer is pending.
func (r *Runtime) pushHandle(l *lua.State, handle scheduler.Handle, err error, refs ...int) int {
	if err != nil || handle == 0 {
		for _, ref := range refs {
			r.unref(ref)
		}
	}
	if err != nil {
		return raise(l, err)
	}
	if handle != 0 {
		r.hold(handle, refs...)
	}
	l.PushInteger(int(handle))
	return 1
}

func (r *Runtime) setTimeout(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeFunction)
	delay := millis(l, 2, lua.OptNumber(l, 2, 0))
	ref := r.ref(l, 1)
	handle, err := r.magik.SetTimeout(r.callback(ref), delay)
	return r.pushHandle(l, handle, err, ref)
}

func (r *Runtime) setInterval(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeFunction)
	delay := millis(l, 2, lua.CheckNumber(l, 2))
	ref := r.ref(l, 1)
	handle, err := r.magik.SetInterval(r.callback(ref), delay)
	return r.pushHandle(l, handle, err, ref)
}

func (r *Runtime) clearInterval(l *lua.State) int {
	if handle := lua.OptInteger(l, 1, 0); handle > 0 {
		r.magik.ClearInterval(scheduler.Handle(handle))
	}
	return 0
}

func (r *Runtime) doAfter(l *lua.State) int {
	seconds := lua.CheckNumber(l, 1)
	lua.CheckType(l, 2, lua.TypeFunction)
	ref := r.ref(l, 2)
	handle, err := r.magik.DoAfter(seconds, r.callback(ref))
	return r.pushHandle(l, handle, err, ref)
}

func (r *Runtime) doNTimes(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeFunction)
	times := lua.CheckInteger(l, 2)
	delay := millis(l, 3, lua.OptNumber(l, 3, 0))

	hasDone := !l.IsNoneOrNil(4)
	if hasDone {
		lua.CheckType(l, 4, lua.TypeFunction)
	}

	refs := []int{r.ref(l, 1)}
	var done scheduler.Callback
	if hasDone {
		ref := r.ref(l, 4)
		refs = append(refs, ref)
		done = r.callback(ref)
	}
	handle, err := r.magik.DoNTimes(r.callback(refs[0]), times, delay, done)
	return r.pushHandle(l, handle, err, refs...)
}

func (r *Runtime) mementoCall(l *lua.State) int {
	// argument 1 is the memento table itself
	if l.Top() <= 2 {
		r.magik.Memento(luaToGo(l, 2))
		return 0
	}
	if err := r.magik.MementoField(luaToGo(l, 2), luaToGo(l, 3)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) setItem(l *lua.State) int {
	if err := r.magik.SetItem(luaToGo(l, 1), luaToGo(l, 2)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) getItem(l *lua.State) int {
	value, err := r.magik.GetItem(luaToGo(l, 1))
	if err != nil {
		return raise(l, err)
	}
	pushValue(l, value)
	return 1
}

func (r *Runtime) exmemento(l *lua.State) int {
	pushValue(l, r.magik.Exmemento())
	return 1
}

func (r *Runtime) global(l *lua.State) int {
	ns, err := r.magik.Global(lua.CheckString(l, 1))
	if err != nil {
		return raise(l, err)
	}
	pushValue(l, ns)
	return 1
}

func (r *Runtime) getPlugin(l *lua.State) int {
	pushValue(l, r.magik.GetPlugin())
	return 1
}

func (r *Runtime) getSender(l *lua.State) int {
	info, err := r.magik.GetSender()
	if err != nil {
		return raise(l, err)
	}
	pushValue(l, info)
	return 1
}

func (r *Runtime) volare(l *lua.State) int {
	if err := r.magik.Volare(millis(l, 1, lua.OptNumber(l, 1, 0))); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) aspecto(l *lua.State) int {
	loc, err := r.magik.Aspecto()
	if err != nil {
		return raise(l, err)
	}
	pushValue(l, loc)
	return 1
}

func (r *Runtime) caldarium(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	ingredients, err := toStrings(luaToGo(l, 1))
	if err != nil {
		lua.ArgumentError(l, 1, err.Error())
		return 0
	}
	secret, err := r.magik.Caldarium(ingredients)
	if err != nil {
		return raise(l, err)
	}
	l.PushString(secret)
	return 1
}

func (r *Runtime) stella(l *lua.State) int {
	if err := r.magik.Stella(checkLocation(l, 1)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) declaro(l *lua.State) int {
	if err := r.magik.Declaro(lua.CheckString(l, 1)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) shakti(l *lua.State) int {
	var at *magik.Location
	if !l.IsNoneOrNil(1) {
		loc := checkLocation(l, 1)
		at = &loc
	}
	if err := r.magik.Shakti(at); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) satio(l *lua.State) int {
	if err := r.magik.Satio(); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) random(l *lua.State) int {
	n, err := r.magik.Random(lua.CheckInteger(l, 1), lua.CheckInteger(l, 2))
	if err != nil {
		return raise(l, err)
	}
	l.PushInteger(n)
	return 1
}

func (r *Runtime) dixit(l *lua.State) int {
	message, _ := lua.ToStringMeta(l, 1)
	if err := r.magik.Dixit(message, lua.OptString(l, 2, "")); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) exsultus(l *lua.State) int {
	if err := r.magik.Exsultus(lua.OptNumber(l, 1, 100)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) hic(l *lua.State) int {
	loc, err := r.magik.Hic()
	if err != nil {
		return raise(l, err)
	}
	pushValue(l, loc)
	return 1
}

func (r *Runtime) iacta(l *lua.State) int {
	if err := r.magik.Iacta(lua.CheckString(l, 1)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) ianuae(l *lua.State) int {
	if err := r.magik.Ianuae(checkLocation(l, 1)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) incendium(l *lua.State) int {
	if err := r.magik.Incendium(lua.CheckString(l, 1)); err != nil {
		return raise(l, err)
	}
	return 0
}

func (r *Runtime) infierno(l *lua.State) int {
	if err := r.magik.Infierno(); err != nil {
		return raise(l, err)
	}
	return 0
}

// print writes its arguments to the caster, separated by tabs.
func (r *Runtime) print(l *lua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		s, _ := lua.ToStringMeta(l, i)
		parts = append(parts, s)
	}
	// ToStringMeta pushes a copy of every value
	l.SetTop(n)
	if err := r.magik.Dixit(strings.Join(parts, "\t"), ""); err != nil {
		return raise(l, err)
	}
	return 0
}
