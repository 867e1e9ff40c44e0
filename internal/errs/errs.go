// Package errs defines the error taxonomy shared across OpenDT components.
//
// Each kind is a sentinel that call sites compare against with errors.Is,
// rather than by matching message strings, mirroring how the teacher
// codebase tags errors with stable go.estuary.dev/Exxx codes.
package errs

import "errors"

var (
	// ErrInvalidEvent marks a malformed or late workload/power message.
	// Never fatal: the caller drops the event and bumps a counter.
	ErrInvalidEvent = errors.New("go.opendt.dev/E001: invalid event")

	// ErrTransientSim marks a subprocess exit!=0 or timeout. A missing
	// output artifact after a clean exit is reported as
	// ErrIntegrityViolation. The window it belongs to still reaches SIMULATED.
	ErrTransientSim = errors.New("go.opendt.dev/E002: transient simulator failure")

	// ErrIntegrityViolation marks a parse failure of a required output
	// file after a successful exit, or a cache fingerprint/generation
	// mismatch. Treated as ErrTransientSim for the current window.
	ErrIntegrityViolation = errors.New("go.opendt.dev/E003: integrity violation")

	// ErrResourceExhaustion marks scratch-directory allocation or
	// file-write failure. No caller retries: opendt-sim records the window
	// as an error result, and a calibration candidate counts as failed.
	ErrResourceExhaustion = errors.New("go.opendt.dev/E004: resource exhaustion")

	// ErrConfiguration marks an invalid configuration value (unknown
	// paramPath, out-of-range bounds). Fatal only to the owning component.
	ErrConfiguration = errors.New("go.opendt.dev/E005: configuration error")
)

// Event wraps ErrInvalidEvent with context about the rejected message.
type Event struct {
	Reason string
}

func (e *Event) Error() string      { return "go.opendt.dev/E001: invalid event: " + e.Reason }
func (e *Event) Unwrap() error      { return ErrInvalidEvent }
func NewEvent(reason string) *Event { return &Event{Reason: reason} }

// Sim wraps ErrTransientSim with the underlying failure detail.
type Sim struct {
	RunID  string
	Reason string
}

func (e *Sim) Error() string {
	return "go.opendt.dev/E002: transient simulator failure (" + e.RunID + "): " + e.Reason
}
func (e *Sim) Unwrap() error { return ErrTransientSim }

func NewSim(runID, reason string) *Sim { return &Sim{RunID: runID, Reason: reason} }

// Integrity wraps ErrIntegrityViolation with context: a missing or
// malformed output artifact after a successful exit, or a failure to
// encode/decode OpenDT's own canonical input data.
type Integrity struct {
	Reason string
}

func (e *Integrity) Error() string { return "go.opendt.dev/E003: integrity violation: " + e.Reason }
func (e *Integrity) Unwrap() error { return ErrIntegrityViolation }

func NewIntegrity(reason string) *Integrity { return &Integrity{Reason: reason} }

// Resource wraps ErrResourceExhaustion with context: scratch-directory
// allocation or file-write failure.
type Resource struct {
	Reason string
}

func (e *Resource) Error() string { return "go.opendt.dev/E004: resource exhaustion: " + e.Reason }
func (e *Resource) Unwrap() error { return ErrResourceExhaustion }

func NewResource(reason string) *Resource { return &Resource{Reason: reason} }

// Config wraps ErrConfiguration with the offending field.
type Config struct {
	Field  string
	Reason string
}

func (e *Config) Error() string {
	return "go.opendt.dev/E005: configuration error: " + e.Field + ": " + e.Reason
}
func (e *Config) Unwrap() error { return ErrConfiguration }

func NewConfig(field, reason string) *Config { return &Config{Field: field, Reason: reason} }
