package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteTransient_Unwraps(t *testing.T) {
	// GIVEN a transient remote error wrapping an underlying cause
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("polling host: %w", &RemoteTransient{Host: "hpc01", Err: cause})

	// THEN errors.As recovers the typed error and errors.Is recovers the cause
	var rt *RemoteTransient
	assert.True(t, errors.As(wrapped, &rt))
	assert.Equal(t, "hpc01", rt.Host)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ConfigurationError{Reason: "missing label a"}).Error(), "missing label a")
	assert.Contains(t, (&InsufficientMemory{RequiredBytes: 10, AvailableBytes: 5}).Error(), "10")
	assert.Contains(t, (&NoAvailableHost{Tried: []string{"h1", "h2"}}).Error(), "h1")
	assert.Contains(t, (&SimulationCrashed{SimulationName: "sim_1", Reason: "missing manifest"}).Error(), "sim_1")
	assert.Contains(t, (&RestartConfirmationRequired{GenerationName: "Gen02"}).Error(), "Gen02")
	assert.Contains(t, (&StoreCorruption{Table: "chi_squared", Reason: "checksum mismatch"}).Error(), "chi_squared")
}
