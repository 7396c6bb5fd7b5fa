// Package taskgen generates deterministic arithmetic practice tasks. It is
// pure: the same seed always yields the same task, so demo flows and tests
// can emit reproducible task events.
package taskgen

import (
	"fmt"
	"math/rand"

	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// Generator produces a task from a seed. Consumers treat it as an opaque
// function; the task content is never interpreted by the relay.
type Generator func(seed int64) types.TaskPayload

// Addition generates a two-operand addition task with operands in [0, max).
func Addition(max int) Generator {
	return func(seed int64) types.TaskPayload {
		rng := rand.New(rand.NewSource(seed))
		a := rng.Intn(max)
		b := rng.Intn(max)
		return types.TaskPayload{
			Kind:     "addition",
			Question: fmt.Sprintf("%d + %d", a, b),
			Answer:   fmt.Sprintf("%d", a+b),
		}
	}
}

// Subtraction generates a subtraction task with a non-negative answer.
func Subtraction(max int) Generator {
	return func(seed int64) types.TaskPayload {
		rng := rand.New(rand.NewSource(seed))
		a := rng.Intn(max)
		b := rng.Intn(max)
		if b > a {
			a, b = b, a
		}
		return types.TaskPayload{
			Kind:     "subtraction",
			Question: fmt.Sprintf("%d - %d", a, b),
			Answer:   fmt.Sprintf("%d", a-b),
		}
	}
}

// Multiplication generates a times-table task with operands in [0, max).
func Multiplication(max int) Generator {
	return func(seed int64) types.TaskPayload {
		rng := rand.New(rand.NewSource(seed))
		a := rng.Intn(max)
		b := rng.Intn(max)
		return types.TaskPayload{
			Kind:     "multiplication",
			Question: fmt.Sprintf("%d × %d", a, b),
			Answer:   fmt.Sprintf("%d", a*b),
		}
	}
}

// Check grades a given answer against a task.
func Check(task types.TaskPayload, given string) types.ResultPayload {
	return types.ResultPayload{
		Correct: given == task.Answer,
		Given:   given,
	}
}
