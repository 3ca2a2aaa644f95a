package modeladapter

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// MaxTemperature is the highest sampling temperature a Request may carry.
const MaxTemperature = 2.0

// ErrInvalidRequest is wrapped by every error returned from Request.Validate.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one generation call. A Request is a value: build a new one per
// backend call instead of mutating a shared instance.
type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// Validate reports whether the request can be sent to a backend.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Prompt) == "":
		return fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	case r.Model == "":
		return fmt.Errorf("%w: empty model", ErrInvalidRequest)
	case r.MaxTokens <= 0:
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidRequest, r.MaxTokens)
	case r.Temperature < 0 || r.Temperature > MaxTemperature:
		return fmt.Errorf("%w: temperature %.2f outside [0, %.0f]", ErrInvalidRequest, r.Temperature, MaxTemperature)
	}
	return nil
}

// Event is one incremental delta of a streamed response. Reasoning and
// Content are independent channels; either, both or neither may be set.
type Event struct {
	// Reasoning is model commentary surfaced before the committed answer.
	Reasoning string
	// Content is a fragment of the answer itself.
	Content string
}

// HasReasoning reports whether the event carries a reasoning fragment.
func (e Event) HasReasoning() bool { return e.Reasoning != "" }

// HasContent reports whether the event carries a content fragment.
func (e Event) HasContent() bool { return e.Content != "" }

// Stream is the sequence of events produced by one streamed call. It is
// finite and must be consumed once, in order. A non-nil error is always the
// last value yielded.
type Stream iter.Seq2[Event, error]

// Events returns a Stream over a fixed list of events, optionally ending with
// err. It is mostly useful for adapters that fall back to a blocking call and
// for tests.
func Events(err error, events ...Event) Stream {
	return func(yield func(Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
		if err != nil {
			yield(Event{}, err)
		}
	}
}
