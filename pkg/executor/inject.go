package executor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// Failure is a simulated step failure.
type Failure struct {
	Reason string
	Kind   core.FailureKind
}

// FailureInjector decides whether a simulated step fails. step is the
// one-based position of the step in the run.
type FailureInjector interface {
	Inject(step int) *Failure
}

// InjectorFunc adapts a function to FailureInjector.
type InjectorFunc func(step int) *Failure

// Inject calls f.
func (f InjectorFunc) Inject(step int) *Failure {
	return f(step)
}

// NoFailures never injects.
var NoFailures = InjectorFunc(func(int) *Failure { return nil })

// simulatedFailures are the reasons a simulated device reports.
var simulatedFailures = []Failure{
	{Reason: "Element not found: Search button missing", Kind: core.KindElementNotFound},
	{Reason: "Network timeout: App failed to load", Kind: core.KindNetworkTimeout},
	{Reason: "Permission popup appeared", Kind: core.KindPermissionPopup},
	{Reason: "App crashed during execution", Kind: core.KindAppCrashed},
	{Reason: "Element click failed - UI changed", Kind: core.KindUnknown},
}

// RandomInjector fails steps at a fixed rate once the run reaches MinStep.
type RandomInjector struct {
	Rate    float64
	MinStep int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomInjector creates an injector. A zero seed uses the clock.
func NewRandomInjector(rate float64, minStep int, seed int64) *RandomInjector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomInjector{
		Rate:    rate,
		MinStep: minStep,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Inject implements FailureInjector.
func (r *RandomInjector) Inject(step int) *Failure {
	if step < r.MinStep || r.Rate <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.Float64() >= r.Rate {
		return nil
	}
	f := simulatedFailures[r.rng.Intn(len(simulatedFailures))]
	return &f
}

// FailAt injects f at the given one-based step positions.
func FailAt(f Failure, steps ...int) FailureInjector {
	set := make(map[int]bool, len(steps))
	for _, s := range steps {
		set[s] = true
	}
	return InjectorFunc(func(step int) *Failure {
		if !set[step] {
			return nil
		}
		out := f
		return &out
	})
}
