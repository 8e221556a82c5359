package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"jobsched/internal/task/trigger"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrDuplicateKey = errors.New("job already registered")
)

// DefaultGroup is used when a key is created without a group.
const DefaultGroup = "DEFAULT"

// Key identifies a job. Keys order by group, then name.
type Key struct {
	Name  string
	Group string
}

func NewKey(name, group string) Key {
	group = strings.TrimSpace(group)
	if group == "" {
		group = DefaultGroup
	}
	return Key{Name: strings.TrimSpace(name), Group: group}
}

func (k Key) normalize() Key { return NewKey(k.Name, k.Group) }

func (k Key) String() string { return k.Group + "." + k.Name }

func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Group, o.Group); c != 0 {
		return c
	}
	return cmp.Compare(k.Name, o.Name)
}

// ParseKey parses "group.name" or a bare "name" (default group).
func ParseKey(s string) Key {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i > 0 && i < len(s)-1 {
		return NewKey(s[i+1:], s[:i])
	}
	return NewKey(s, "")
}

// Action is the executable unit of a job.
type Action func(ctx context.Context) error

// Definition is immutable once registered; replace it by key instead.
type Definition struct {
	Key         Key
	Description string
	Action      Action
	// Timeout overrides the runner's max run time when > 0.
	Timeout time.Duration
	// Exclusive jobs never run concurrently with themselves.
	Exclusive bool
}

// Entry binds a definition to the trigger it owns.
type Entry struct {
	Def     Definition
	Trigger *trigger.Trigger
}

// Registry maps job keys to definitions and triggers.
//
// It is not goroutine-safe: the scheduler loop owns it.
type Registry struct {
	entries map[Key]*Entry
	// sorted is rebuilt lazily after register/unregister.
	sorted []Key
	dirty  bool
}

func New() *Registry {
	return &Registry{entries: map[Key]*Entry{}}
}

// Register stores def under its normalized key (see NewKey).
func (r *Registry) Register(def Definition, tr *trigger.Trigger) (*Entry, error) {
	def.Key = def.Key.normalize()
	if def.Key.Name == "" {
		return nil, fmt.Errorf("register: job name required")
	}
	if def.Action == nil {
		return nil, fmt.Errorf("register %s: action required", def.Key)
	}
	if tr == nil {
		return nil, fmt.Errorf("register %s: trigger required", def.Key)
	}
	if _, ok := r.entries[def.Key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, def.Key)
	}
	e := &Entry{Def: def, Trigger: tr}
	r.entries[def.Key] = e
	r.dirty = true
	return e, nil
}

func (r *Registry) Unregister(key Key) (*Entry, error) {
	key = key.normalize()
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(r.entries, key)
	r.dirty = true
	return e, nil
}

func (r *Registry) Get(key Key) (*Entry, error) {
	key = key.normalize()
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e, nil
}

// Replace swaps the definition stored under def.Key, keeping its trigger.
func (r *Registry) Replace(def Definition) error {
	def.Key = def.Key.normalize()
	e, ok := r.entries[def.Key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, def.Key)
	}
	if def.Action == nil {
		return fmt.Errorf("replace %s: action required", def.Key)
	}
	e.Def = def
	return nil
}

func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) keys() []Key {
	if r.dirty || len(r.sorted) != len(r.entries) {
		ks := make([]Key, 0, len(r.entries))
		for k := range r.entries {
			ks = append(ks, k)
		}
		slices.SortFunc(ks, Key.Compare)
		r.sorted = ks
		r.dirty = false
	}
	return r.sorted
}

// All yields entries in key order. Each call starts a fresh pass.
func (r *Registry) All() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, k := range slices.Clone(r.keys()) {
			e, ok := r.entries[k]
			if !ok {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Groups returns the sorted set of group names.
func (r *Registry) Groups() []string {
	var out []string
	for _, k := range r.keys() {
		if len(out) == 0 || out[len(out)-1] != k.Group {
			out = append(out, k.Group)
		}
	}
	return out
}

// Keys returns the sorted keys in one group.
func (r *Registry) Keys(group string) []Key {
	var out []Key
	for _, k := range r.keys() {
		if k.Group == group {
			out = append(out, k)
		}
	}
	return out
}
