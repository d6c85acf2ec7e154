package responder

import (
	"fmt"
	"time"
)

// Narration is a short continuous-thought update produced locally while a
// waiting episode runs, without a round trip to the full generator.
type Narration struct {
	Thought string
	Mood    string
}

// Narrate produces a waiting-update narration for the given progress of an
// episode. expected describes the reaction being waited for and may be empty.
func Narrate(progress float64, elapsed time.Duration, expected string) Narration {
	subject := "a reaction"
	if expected != "" {
		subject = expected
	}
	rounded := elapsed.Round(time.Second)
	switch {
	case progress < 0.45:
		return Narration{
			Thought: fmt.Sprintf("Still early. Waiting for %s, %s in.", subject, rounded),
			Mood:    "patient",
		}
	case progress < 0.75:
		return Narration{
			Thought: fmt.Sprintf("Halfway through the wait for %s and nothing yet.", subject),
			Mood:    "restless",
		}
	default:
		return Narration{
			Thought: fmt.Sprintf("Almost out of time waiting for %s. Maybe it's not coming.", subject),
			Mood:    "uneasy",
		}
	}
}
