package registry

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"jobsched/internal/task/trigger"
)

func noop(context.Context) error { return nil }

func def(name, group string) Definition {
	return Definition{Key: NewKey(name, group), Action: noop}
}

func tr() *trigger.Trigger { return trigger.New(trigger.Every(time.Second)) }

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()
	r := New()
	if _, err := r.Register(def("A", "group1"), tr()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(def("A", "group1"), tr()); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestUnregisterThenGetNotFound(t *testing.T) {
	t.Parallel()
	r := New()
	keys := []Key{NewKey("A", "group1"), NewKey("B", "group1"), NewKey("C", "")}
	for _, k := range keys {
		if _, err := r.Register(Definition{Key: k, Action: noop}, tr()); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range keys {
		if _, err := r.Unregister(k); err != nil {
			t.Fatalf("Unregister(%s): %v", k, err)
		}
		if _, err := r.Get(k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(%s) err = %v, want ErrNotFound", k, err)
		}
	}
	if _, err := r.Unregister(keys[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Unregister err = %v", err)
	}
}

func TestAllIsOrderedAndRestartable(t *testing.T) {
	t.Parallel()
	r := New()
	for _, d := range []Definition{def("b", "g2"), def("z", "g1"), def("a", "g2"), def("m", "g1")} {
		if _, err := r.Register(d, tr()); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"g1.m", "g1.z", "g2.a", "g2.b"}
	for pass := 0; pass < 2; pass++ {
		var got []string
		for e := range r.All() {
			got = append(got, e.Def.Key.String())
		}
		if !slices.Equal(got, want) {
			t.Fatalf("pass %d: got %v, want %v", pass, got, want)
		}
	}

	// Early break must not disturb later passes.
	for range r.All() {
		break
	}
	if n := len(slices.Collect(r.All())); n != 4 {
		t.Fatalf("collected %d entries, want 4", n)
	}

	if g := r.Groups(); !slices.Equal(g, []string{"g1", "g2"}) {
		t.Fatalf("Groups = %v", g)
	}
	if k := r.Keys("g2"); len(k) != 2 || k[0].Name != "a" {
		t.Fatalf("Keys(g2) = %v", k)
	}
}

func TestReplaceKeepsTrigger(t *testing.T) {
	t.Parallel()
	r := New()
	orig := tr()
	if _, err := r.Register(def("A", "group1"), orig); err != nil {
		t.Fatal(err)
	}
	d := def("A", "group1")
	d.Description = "updated"
	if err := r.Replace(d); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	e, _ := r.Get(d.Key)
	if e.Def.Description != "updated" || e.Trigger != orig {
		t.Fatalf("unexpected entry %+v", e)
	}
	if err := r.Replace(def("missing", "group1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Replace missing err = %v", err)
	}
}

func TestKeyParsing(t *testing.T) {
	t.Parallel()
	tests := map[string]Key{
		"group1.A": {Name: "A", Group: "group1"},
		"A":        {Name: "A", Group: DefaultGroup},
		" B ":      {Name: "B", Group: DefaultGroup},
	}
	for in, want := range tests {
		if got := ParseKey(in); got != want {
			t.Fatalf("ParseKey(%q) = %+v, want %+v", in, got, want)
		}
	}
	if NewKey("A", "g").Compare(NewKey("A", "h")) >= 0 {
		t.Fatal("group must order before name")
	}
}

func TestRegisterValidates(t *testing.T) {
	t.Parallel()
	r := New()
	if _, err := r.Register(Definition{Key: NewKey("", "g"), Action: noop}, tr()); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := r.Register(Definition{Key: NewKey("x", "g")}, tr()); err == nil {
		t.Fatal("expected error for nil action")
	}
	if _, err := r.Register(def("x", "g"), nil); err == nil {
		t.Fatal("expected error for nil trigger")
	}
}

func TestKeysAreNormalized(t *testing.T) {
	t.Parallel()
	r := New()
	e, err := r.Register(Definition{Key: Key{Name: " A "}, Action: noop}, tr())
	if err != nil {
		t.Fatal(err)
	}
	if e.Def.Key != NewKey("A", "") {
		t.Fatalf("stored key = %+v", e.Def.Key)
	}
	if _, err := r.Register(def("A", DefaultGroup), tr()); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if got, err := r.Get(Key{Name: "A"}); err != nil || got != e {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := r.Replace(Definition{Key: Key{Name: "A"}, Action: noop, Description: "x"}); err != nil {
		t.Fatal(err)
	}
	if e.Def.Key.Group != DefaultGroup || e.Def.Description != "x" {
		t.Fatalf("replaced def = %+v", e.Def)
	}
}
