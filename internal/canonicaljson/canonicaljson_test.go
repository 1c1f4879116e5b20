package canonicaljson

import "testing"

func TestSorted_OrdersKeysRegardlessOfInputOrder(t *testing.T) {
	a, err := Sorted(map[string]any{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	b, err := Sorted(map[string]any{"c": 3, "a": 2, "b": 1})
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected key order to be irrelevant to Sorted output, got %s vs %s", a, b)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(a) != want {
		t.Fatalf("expected %s, got %s", want, a)
	}
}

func TestSorted_SortsNestedObjects(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"z": 1, "y": 2},
	}
	got, err := Sorted(v)
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	want := `{"outer":{"y":2,"z":1}}`
	if string(got) != want {
		t.Fatalf("expected nested object keys sorted too, got %s", got)
	}
}

type naturalPayload struct {
	Zebra string `json:"zebra"`
	Alpha string `json:"alpha"`
}

func TestNatural_PreservesStructFieldOrder(t *testing.T) {
	got, err := Natural(naturalPayload{Zebra: "z", Alpha: "a"})
	if err != nil {
		t.Fatalf("natural: %v", err)
	}
	want := `{"zebra":"z","alpha":"a"}`
	if string(got) != want {
		t.Fatalf("expected struct declaration order preserved, got %s", got)
	}
}

func TestNatural_KeepsEncodingJSONMapKeyOrder(t *testing.T) {
	// encoding/json sorts map[string]any keys itself; Natural does not undo
	// that, it only guarantees it never re-sorts struct fields. This test
	// pins current behavior so a future refactor can't silently swap in
	// Sorted's semantics for struct payloads.
	got, err := Natural(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("natural: %v", err)
	}
	want := `{"a":2,"b":1}`
	if string(got) != want {
		t.Fatalf("expected encoding/json's own map key order, got %s", got)
	}
}
