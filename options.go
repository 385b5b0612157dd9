package pyre

import (
	"log/slog"
	"sort"
	"sync"
)

// OptionList is a set of named option defaults contributed by a
// technique, component, or renderer. Supported value types are bool,
// int32, uint32, float32, and string.
type OptionList map[string]any

// OptionValue constrains the types an option can hold.
type OptionValue interface {
	~bool | ~int32 | ~uint32 | ~float32 | ~string
}

// Options is the runtime configuration store shared by all techniques
// and components. An option's type is fixed by the first value stored
// under its name; later writes with a different type are rejected with
// a logged error rather than a panic, and reads with the wrong type
// return the zero value.
//
// Options is safe for concurrent use.
//
// While a frame is rendering, reads are served from a snapshot taken
// at the frame boundary: a write made mid-frame lands in the live
// store and becomes visible to reads at the start of the next frame,
// so every technique in a frame sees the same configuration.
type Options struct {
	mu     sync.RWMutex
	values map[string]any
	frozen map[string]any // frame snapshot served to reads while non-nil
}

// NewOptions creates an empty options store.
func NewOptions() *Options {
	return &Options{values: make(map[string]any)}
}

// Merge adds every entry of list that is not already present.
// Existing entries keep their current value and type.
func (o *Options) Merge(list OptionList) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, value := range list {
		if _, exists := o.values[name]; exists {
			continue
		}
		switch value.(type) {
		case bool, int32, uint32, float32, string:
			o.values[name] = value
		default:
			Logger().Error("option has unsupported type",
				slog.String("option", name))
		}
	}
}

// Override replaces the values of options that already exist in the
// store, keeping their established types. Entries for unknown names or
// with mismatched types are logged and skipped.
func (o *Options) Override(list OptionList) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, value := range list {
		current, exists := o.values[name]
		if !exists {
			Logger().Error("override of unknown option",
				slog.String("option", name))
			continue
		}
		if !sameOptionType(current, value) {
			Logger().Error("option type mismatch on override",
				slog.String("option", name))
			continue
		}
		o.values[name] = value
	}
}

// Names returns the names of all stored options, sorted.
func (o *Options) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.values))
	for name := range o.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether an option with the given name exists,
// regardless of its type.
func (o *Options) Has(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.read(name)
	return ok
}

// Len returns the number of stored options.
func (o *Options) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.values)
}

// snapshot returns a copy of the live values, ignoring any frame
// snapshot in effect.
func (o *Options) snapshot() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.values))
	for name, value := range o.values {
		out[name] = value
	}
	return out
}

// beginFrame freezes the current values for the duration of a frame.
// Reads are served from the frozen copy until endFrame.
func (o *Options) beginFrame() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frozen = make(map[string]any, len(o.values))
	for name, value := range o.values {
		o.frozen[name] = value
	}
}

// endFrame drops the frame snapshot; reads see the live store again.
func (o *Options) endFrame() {
	o.mu.Lock()
	o.frozen = nil
	o.mu.Unlock()
}

// read returns the value visible to readers: the frame snapshot while
// one is in effect, the live store otherwise. Callers hold o.mu.
func (o *Options) read(name string) (any, bool) {
	if o.frozen != nil {
		value, ok := o.frozen[name]
		return value, ok
	}
	value, ok := o.values[name]
	return value, ok
}

// clear removes all options. Used when the active renderer changes.
func (o *Options) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values = make(map[string]any)
	o.frozen = nil
}

func sameOptionType(a, b any) bool {
	switch a.(type) {
	case bool:
		_, ok := b.(bool)
		return ok
	case int32:
		_, ok := b.(int32)
		return ok
	case uint32:
		_, ok := b.(uint32)
		return ok
	case float32:
		_, ok := b.(float32)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	default:
		return false
	}
}

// GetOption returns the value of a typed option. If the option does not
// exist or holds a different type, it logs an error and returns the
// zero value of T.
func GetOption[T OptionValue](o *Options, name string) T {
	o.mu.RLock()
	value, exists := o.read(name)
	o.mu.RUnlock()

	var zero T
	if !exists {
		Logger().Error("unknown option requested",
			slog.String("option", name))
		return zero
	}
	typed, ok := value.(T)
	if !ok {
		Logger().Error("option type mismatch on read",
			slog.String("option", name))
		return zero
	}
	return typed
}

// SetOption stores the value of a typed option. If the option already
// exists with a different type, the write is rejected and logged. An
// option that does not exist yet is created with the value's type.
func SetOption[T OptionValue](o *Options, name string, value T) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current, exists := o.values[name]
	if exists && !sameOptionType(current, value) {
		Logger().Error("option type mismatch on write",
			slog.String("option", name))
		return
	}
	o.values[name] = value
}

// HasOption reports whether an option with the given name and type exists.
func HasOption[T OptionValue](o *Options, name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	value, exists := o.read(name)
	if !exists {
		return false
	}
	_, ok := value.(T)
	return ok
}
