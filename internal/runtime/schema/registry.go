// Package schema keeps the registry of event subjects, their schema versions,
// and payload prototypes. Outbound events are checked before publish (a
// mismatch is a programming error, not a transient fault); inbound events
// that fail validation are dead-lettered without retry.
package schema

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mercora/eventline/internal/runtime/jsoncodec"
)

// UnknownSubjectError marks an event whose subject was never registered.
type UnknownSubjectError struct {
	Subject string
}

func (e *UnknownSubjectError) Error() string {
	return fmt.Sprintf("schema: unknown subject %q", e.Subject)
}

// UnsupportedVersionError marks an event carrying a version the consumer does
// not know. Higher versions are treated as malformed rather than guessed at.
type UnsupportedVersionError struct {
	Subject    string
	Got        int
	Registered int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("schema: subject %q version %d not supported (registered: %d)",
		e.Subject, e.Got, e.Registered)
}

// InvalidPayloadError marks a payload that does not decode into the
// registered shape.
type InvalidPayloadError struct {
	Subject string
	Cause   error
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("schema: invalid payload for subject %q: %v", e.Subject, e.Cause)
}

func (e *InvalidPayloadError) Unwrap() error { return e.Cause }

type registration struct {
	version   int
	prototype reflect.Type
}

// Registry maps subjects to their current schema version and payload shape.
// Safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	subjects map[string]registration
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{subjects: make(map[string]registration)}
}

// Register binds a subject to a schema version and a payload prototype.
// The prototype must be a pointer to the payload struct; passing anything
// else is a programming error and panics at startup.
func (r *Registry) Register(subject string, version int, prototype any) {
	if subject == "" {
		panic("schema: subject is required")
	}
	if version < 1 {
		panic(fmt.Sprintf("schema: version for %q must be >= 1", subject))
	}

	typ := reflect.TypeOf(prototype)
	if typ == nil || typ.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("schema: prototype for %q must be a struct pointer", subject))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects[subject] = registration{version: version, prototype: typ.Elem()}
}

// Known reports whether the subject is registered.
func (r *Registry) Known(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subjects[subject]
	return ok
}

// Version returns the registered schema version for a subject, 0 if unknown.
func (r *Registry) Version(subject string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subjects[subject].version
}

// Subjects returns all registered subject names.
func (r *Registry) Subjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.subjects))
	for name := range r.subjects {
		names = append(names, name)
	}
	return names
}

// Validate checks subject, version, and payload shape. Unknown subjects and
// versions newer than the registered one return typed errors so the listener
// can dead-letter without retry.
func (r *Registry) Validate(subject string, version int, payload []byte) error {
	r.mu.RLock()
	reg, ok := r.subjects[subject]
	r.mu.RUnlock()

	if !ok {
		return &UnknownSubjectError{Subject: subject}
	}
	if version > reg.version || version < 1 {
		return &UnsupportedVersionError{Subject: subject, Got: version, Registered: reg.version}
	}
	if len(payload) == 0 {
		return &InvalidPayloadError{Subject: subject, Cause: fmt.Errorf("empty payload")}
	}

	target := reflect.New(reg.prototype).Interface()
	if err := jsoncodec.Unmarshal(payload, target); err != nil {
		return &InvalidPayloadError{Subject: subject, Cause: err}
	}
	return nil
}
