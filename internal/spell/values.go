package spell

import (
	"fmt"
	"math"
	"sort"

	"github.com/Shopify/go-lua"

	"magikcraft/internal/magik"
	"magikcraft/internal/memory"
)

const (
	recordTypeName    = "magik.record"
	namespaceTypeName = "magik.namespace"
)

// registerProxyTypes installs the metatables behind record and namespace
// userdata. Reads and writes on the userdata go straight to the Go value,
// so every state holding the same namespace sees the same data.
func registerProxyTypes(l *lua.State) {
	lua.NewMetaTable(l, recordTypeName)
	lua.SetFunctions(l, recordMethods, 0)
	l.Pop(1)

	lua.NewMetaTable(l, namespaceTypeName)
	lua.SetFunctions(l, namespaceMethods, 0)
	l.Pop(1)
}

var recordMethods = []lua.RegistryFunction{
	{Name: "__index", Function: recordIndex},
	{Name: "__newindex", Function: recordNewIndex},
	{Name: "__len", Function: recordLen},
	{Name: "__pairs", Function: recordPairs},
	{Name: "__tostring", Function: recordToString},
}

var namespaceMethods = []lua.RegistryFunction{
	{Name: "__index", Function: namespaceIndex},
	{Name: "__newindex", Function: namespaceNewIndex},
	{Name: "__len", Function: namespaceLen},
	{Name: "__pairs", Function: namespacePairs},
	{Name: "__tostring", Function: namespaceToString},
}

func checkRecord(l *lua.State, index int) memory.Record {
	ud := lua.CheckUserData(l, index, recordTypeName)
	if record, ok := ud.(memory.Record); ok && record != nil {
		return record
	}
	lua.ArgumentError(l, index, "record expected")
	return nil
}

func checkNamespace(l *lua.State, index int) *memory.Namespace {
	ud := lua.CheckUserData(l, index, namespaceTypeName)
	if ns, ok := ud.(*memory.Namespace); ok && ns != nil {
		return ns
	}
	lua.ArgumentError(l, index, "namespace expected")
	return nil
}

func checkKey(l *lua.State, index int) string {
	key, err := memory.Key(luaToGo(l, index))
	if err != nil {
		lua.ArgumentError(l, index, err.Error())
	}
	return key
}

func recordIndex(l *lua.State) int {
	record := checkRecord(l, 1)
	pushValue(l, record[checkKey(l, 2)])
	return 1
}

func recordNewIndex(l *lua.State) int {
	record := checkRecord(l, 1)
	key := checkKey(l, 2)
	if l.IsNil(3) {
		delete(record, key)
		return 0
	}
	record[key] = luaToGo(l, 3)
	return 0
}

func recordLen(l *lua.State) int {
	l.PushInteger(len(checkRecord(l, 1)))
	return 1
}

func recordPairs(l *lua.State) int {
	record := checkRecord(l, 1)
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return pushIterator(l, keys, func(key string) any { return record[key] })
}

func recordToString(l *lua.State) int {
	l.PushString(fmt.Sprintf("record(%d)", len(checkRecord(l, 1))))
	return 1
}

func namespaceIndex(l *lua.State) int {
	ns := checkNamespace(l, 1)
	value, _ := ns.Get(checkKey(l, 2))
	pushValue(l, value)
	return 1
}

func namespaceNewIndex(l *lua.State) int {
	ns := checkNamespace(l, 1)
	key := checkKey(l, 2)
	if l.IsNil(3) {
		ns.Delete(key)
		return 0
	}
	ns.Set(key, luaToGo(l, 3))
	return 0
}

func namespaceLen(l *lua.State) int {
	l.PushInteger(checkNamespace(l, 1).Len())
	return 1
}

func namespacePairs(l *lua.State) int {
	ns := checkNamespace(l, 1)
	snapshot := ns.Snapshot()
	return pushIterator(l, ns.Keys(), func(key string) any { return snapshot[key] })
}

func namespaceToString(l *lua.State) int {
	l.PushString("global(" + checkNamespace(l, 1).Name() + ")")
	return 1
}

// pushIterator pushes the next, state, control triple a generic for
// expects, walking keys in order.
func pushIterator(l *lua.State, keys []string, value func(string) any) int {
	i := 0
	l.PushGoFunction(func(l *lua.State) int {
		if i >= len(keys) {
			l.PushNil()
			return 1
		}
		key := keys[i]
		i++
		l.PushString(key)
		pushValue(l, value(key))
		return 2
	})
	l.PushNil()
	l.PushNil()
	return 3
}

// pushValue pushes a Go value onto the stack. Records and namespaces
// become proxies; slices are copied into fresh tables.
func pushValue(l *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case string:
		l.PushString(v)
	case int:
		l.PushInteger(v)
	case int64:
		l.PushNumber(float64(v))
	case uint64:
		l.PushNumber(float64(v))
	case float32:
		l.PushNumber(float64(v))
	case float64:
		l.PushNumber(v)
	case memory.Record:
		l.PushUserData(v)
		lua.SetMetaTableNamed(l, recordTypeName)
	case map[string]any:
		pushValue(l, memory.Record(v))
	case *memory.Namespace:
		l.PushUserData(v)
		lua.SetMetaTableNamed(l, namespaceTypeName)
	case []any:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case []string:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			l.PushString(item)
			l.RawSetInt(-2, i+1)
		}
	case magik.Location:
		pushValue(l, v.Record())
	case *magik.PlayerInfo:
		if v == nil {
			l.PushNil()
			return
		}
		pushValue(l, memory.Record{
			"name":     v.Name,
			"location": v.Location.Record(),
			"health":   v.Health,
			"food":     v.Food,
			"flying":   v.Flying,
			"onFire":   v.OnFire,
		})
	case magik.PluginInfo:
		pushValue(l, memory.Record{
			"name":         v.Name,
			"version":      v.Version,
			"world":        v.World,
			"openPlatform": v.OpenPlatform,
		})
	default:
		l.PushString(fmt.Sprint(v))
	}
}

// luaToGo reads the value at index. Tables with keys 1..n become []any,
// any other table a memory.Record; proxies give back the Go value they
// wrap. Functions and threads do not survive the trip.
func luaToGo(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		value, _ := l.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := l.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	case lua.TypeUserData:
		return l.ToUserData(index)
	default:
		return nil
	}
}

func tableToGo(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			result = append(result, luaToGo(l, -1))
			l.Pop(1)
		}
		return result
	}
	return tableToRecord(l, index)
}

func tableToRecord(l *lua.State, index int) memory.Record {
	output := memory.Record{}
	index = l.AbsIndex(index)
	l.PushNil()
	for l.Next(index) {
		switch l.TypeOf(-2) {
		case lua.TypeString, lua.TypeNumber:
			// a copy, so converting the key does not confuse Next
			l.PushValue(-2)
			if key, err := memory.Key(luaToGo(l, -1)); err == nil {
				output[key] = luaToGo(l, -2)
			}
			l.Pop(1)
		}
		l.Pop(1)
	}
	return output
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 && math.Abs(value) <= math.MaxInt32 {
		return int(value)
	}
	return value
}

// toStrings converts a Lua list of strings.
func toStrings(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		if record, isRecord := value.(memory.Record); isRecord && len(record) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: expected a list, got %T", magik.ErrInvalidArgument, value)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is %T, not a string", magik.ErrInvalidArgument, i+1, item)
		}
		out = append(out, s)
	}
	return out, nil
}
