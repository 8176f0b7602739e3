// Package runctx carries the per-run context threaded through every
// component: the logger, the seeded RNG and the resolved compute device.
package runctx

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/ZanzyTHEbar/assert-lib"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Device identifies the compute backend tensor math executes on.
// Selection happens once at run-context construction and is not revisited.
type Device string

const (
	// DeviceCPU executes all tensor math with gonum on the host CPU
	DeviceCPU Device = "cpu"
)

// SelectDevice resolves a configured device string to a Device.
// The math substrate is CPU-only, so anything other than "cpu" (or empty,
// which defaults to cpu) is a configuration error rather than a silent
// fallback.
func SelectDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return DeviceCPU, nil
	default:
		return "", fmt.Errorf("unsupported device %q: available devices: cpu", name)
	}
}

// RunContext is built once by the entry point and passed to each component.
type RunContext struct {
	Log    zerolog.Logger
	RunID  string
	Seed   int64
	Rand   *rand.Rand
	Device Device

	// Assert guards data-integrity invariants; a failed assertion aborts
	// the run, since it signals a corrupt corpus rather than a bug worth
	// recovering from.
	Assert *assert.AssertHandler
}

// New seeds the RNG, resolves the device and stamps the run with an id.
func New(log zerolog.Logger, seed int64, deviceName string) (*RunContext, error) {
	device, err := SelectDevice(deviceName)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	return &RunContext{
		Log:    log.With().Str("run_id", runID).Logger(),
		RunID:  runID,
		Seed:   seed,
		Rand:   rand.New(rand.NewSource(seed)),
		Device: device,
		Assert: assert.NewAssertHandler(),
	}, nil
}
