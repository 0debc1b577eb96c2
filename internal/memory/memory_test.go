package memory

import (
	"reflect"
	"sync"
	"testing"
)

func TestSlotFieldsAccumulate(t *testing.T) {
	var slot Slot

	slot.SetField("a", 1)
	slot.SetField("b", 2)

	got, ok := slot.Get().(Record)
	if !ok {
		t.Fatalf("expected a Record, got %T", slot.Get())
	}
	want := Record{"a": 1, "b": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlotSetWholeReplacesFields(t *testing.T) {
	var slot Slot

	slot.SetField("a", 1)
	slot.SetWhole(42)

	if got := slot.Get(); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
	if _, ok := slot.GetField("a"); ok {
		t.Fatal("expected previous fields to be gone")
	}
}

func TestSlotSetFieldOverScalarStartsRecord(t *testing.T) {
	var slot Slot

	slot.SetWhole("a location")
	slot.SetField("home", "spawn")

	value, ok := slot.GetField("home")
	if !ok || value != "spawn" {
		t.Fatalf("expected spawn, got %v (%v)", value, ok)
	}
}

func TestSlotSetFieldIntoPlainMap(t *testing.T) {
	var slot Slot

	slot.SetWhole(map[string]any{"x": 1})
	slot.SetField("y", 2)

	if value, _ := slot.GetField("x"); value != 1 {
		t.Fatalf("expected x kept, got %v", value)
	}
	if value, _ := slot.GetField("y"); value != 2 {
		t.Fatalf("expected y set, got %v", value)
	}
}

func TestSlotEmpty(t *testing.T) {
	var slot Slot

	if slot.Get() != nil {
		t.Fatal("expected nil for unset slot")
	}
	slot.SetWhole(1)
	slot.Clear()
	if slot.Get() != nil {
		t.Fatal("expected nil after clear")
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		in   any
		want string
		err  bool
	}{
		{in: "home", want: "home"},
		{in: 3, want: "3"},
		{in: int64(-4), want: "-4"},
		{in: 2.5, want: "2.5"},
		{in: 7.0, want: "7"},
		{in: true, err: true},
	}
	for _, tt := range tests {
		got, err := Key(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("%v: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%v: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%v: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStoreSlotsArePerSession(t *testing.T) {
	store := NewStore()

	store.Slot("alice").SetWhole("alice's")
	store.Slot("bob").SetWhole("bob's")

	if got := store.Slot("alice").Get(); got != "alice's" {
		t.Fatalf("expected alice's memory, got %v", got)
	}
	if store.Slot("alice") != store.Slot("alice") {
		t.Fatal("expected the same slot across calls")
	}

	store.Discard("alice")
	if got := store.Slot("alice").Get(); got != nil {
		t.Fatalf("expected fresh slot after discard, got %v", got)
	}
	if got := store.Slot("bob").Get(); got != "bob's" {
		t.Fatalf("expected bob untouched, got %v", got)
	}
	store.Discard("nobody")
}

func TestRegistryReturnsSameNamespace(t *testing.T) {
	registry := NewRegistry()

	first := registry.Global("mct1")
	second := registry.Global("mct1")
	if first != second {
		t.Fatal("expected identical namespace objects")
	}

	first.Set("state", Record{"insulin": 0.4})
	value, ok := second.Get("state")
	if !ok {
		t.Fatal("expected mutation to be visible")
	}
	if !reflect.DeepEqual(value, Record{"insulin": 0.4}) {
		t.Fatalf("unexpected value %v", value)
	}
	if registry.Global("other") == first {
		t.Fatal("expected a different namespace for another name")
	}
	if names := registry.Names(); !reflect.DeepEqual(names, []string{"mct1", "other"}) {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNamespaceOperations(t *testing.T) {
	ns := NewRegistry().Global("ns")

	ns.Set("b", 2)
	ns.Set("a", 1)
	if ns.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", ns.Len())
	}
	if keys := ns.Keys(); !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("unexpected keys %v", keys)
	}

	snapshot := ns.Snapshot()
	ns.Delete("a")
	if _, ok := ns.Get("a"); ok {
		t.Fatal("expected a deleted")
	}
	if snapshot["a"] != 1 {
		t.Fatal("snapshot should not follow later deletes")
	}
}

func TestNamespaceConcurrentTopLevelWrites(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ns := registry.Global("shared")
			for j := 0; j < 100; j++ {
				key, _ := Key(i*100 + j)
				ns.Set(key, j)
			}
		}(i)
	}
	wg.Wait()

	if n := registry.Global("shared").Len(); n != 800 {
		t.Fatalf("expected 800 keys, got %d", n)
	}
}
