package llm

import (
	"context"
	"errors"
	"time"
)

// OutcomeKind tags a collaborator result so fallback handling can switch
// exhaustively instead of inspecting error strings.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeTimeout
	OutcomeFailed
)

// Outcome is the tagged result of one bounded collaborator call.
type Outcome struct {
	Kind       OutcomeKind
	Text       string
	Confidence float64
	Err        error
}

func classify(err error) OutcomeKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeTimeout
	}
	return OutcomeFailed
}

// ChatBounded runs a chat completion with the given timeout and returns a
// tagged outcome; it never returns an error to the caller.
func ChatBounded(ctx context.Context, c Client, timeout time.Duration, messages []Message) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := c.Chat(ctx, messages)
	if err != nil {
		return Outcome{Kind: classify(err), Err: err}
	}
	return Outcome{Kind: OutcomeOK, Text: text, Confidence: 1}
}

// TranscribeBounded runs a transcription with the given timeout and
// returns a tagged outcome.
func TranscribeBounded(ctx context.Context, c Client, timeout time.Duration, audioURL string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t, err := c.Transcribe(ctx, audioURL)
	if err != nil {
		return Outcome{Kind: classify(err), Err: err}
	}
	return Outcome{Kind: OutcomeOK, Text: t.Text, Confidence: t.Confidence}
}
