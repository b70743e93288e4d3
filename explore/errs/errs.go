// Package errs implements the error taxonomy of the fitting engine: a
// small set of sentinel-wrapped error types that downstream callers can
// distinguish with errors.As while still chaining through fmt.Errorf's
// %w the way the rest of the module does.
package errs

import "fmt"

// ConfigurationError marks missing free-parameter labels, inconsistent
// units, or an unknown host.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("configuration error: %s", e.Reason) }

// InsufficientMemory marks a parallelization planner failure to satisfy
// the per-node memory constraint.
type InsufficientMemory struct {
	RequiredBytes float64
	AvailableBytes float64
}

func (e *InsufficientMemory) Error() string {
	return fmt.Sprintf("insufficient memory: need %.0f bytes, have %.0f bytes", e.RequiredBytes, e.AvailableBytes)
}

// NoAvailableHost marks that every preferred host failed its liveness probe.
type NoAvailableHost struct {
	Tried []string
}

func (e *NoAvailableHost) Error() string {
	return fmt.Sprintf("no available host among %v", e.Tried)
}

// RemoteTransient marks a network/SSH error eligible for retry with
// exponential backoff, up to a configured bound.
type RemoteTransient struct {
	Host string
	Err  error
}

func (e *RemoteTransient) Error() string {
	return fmt.Sprintf("transient remote error on host %s: %v", e.Host, e.Err)
}

func (e *RemoteTransient) Unwrap() error { return e.Err }

// SimulationCrashed marks a remote simulation reporting a non-zero exit
// code or a missing output manifest.
type SimulationCrashed struct {
	SimulationName string
	Reason         string
}

func (e *SimulationCrashed) Error() string {
	return fmt.Sprintf("simulation %s crashed: %s", e.SimulationName, e.Reason)
}

// RestartConfirmationRequired marks a restart_from call that aborted
// because no explicit confirmation predicate was satisfied.
type RestartConfirmationRequired struct {
	GenerationName string
}

func (e *RestartConfirmationRequired) Error() string {
	return fmt.Sprintf("restart from generation %q requires explicit confirmation", e.GenerationName)
}

// StoreCorruption marks a checksum mismatch or schema drift on a
// generation-store table. Always fatal.
type StoreCorruption struct {
	Table  string
	Reason string
}

func (e *StoreCorruption) Error() string {
	return fmt.Sprintf("store corruption in table %s: %s", e.Table, e.Reason)
}
