package interpret

import "context"

// Verdict is the three-way outcome of a yes/no classification.
type Verdict string

const (
	Yes     Verdict = "yes"
	No      Verdict = "no"
	Unclear Verdict = "unclear"
)

// Client is the language interpretation gateway used by the dialogue state
// machine. Implementations must be safe for concurrent use.
//
// Every method is a single blocking call. Implementations must tolerate the
// underlying service being unavailable or returning malformed output: the
// error returns exist for logging, and the non-error values are always safe
// defaults the caller can use directly.
type Client interface {
	// ClassifyYesNo judges an utterance as yes, no or unclear in the context
	// of the question that was asked.
	ClassifyYesNo(ctx context.Context, utterance, question string) (Verdict, error)

	// ClassifyYesNoDetail additionally extracts an inline detail from an
	// affirmative answer, e.g. "yeah I had my appendix out" -> (yes,
	// "appendectomy"). The detail is empty when none was mentioned.
	ClassifyYesNoDetail(ctx context.Context, utterance, question string) (Verdict, string, error)

	// ValidateSlot checks a candidate slot value against the question. On a
	// valid verdict the second return is the value, possibly reformatted
	// (e.g. a spoken date converted to YYYY-MM-DD). On an invalid verdict it
	// is a reworded version of the question to re-ask with.
	ValidateSlot(ctx context.Context, slotKind, raw, question string) (bool, string, error)

	// ExtractDetail condenses a free-text answer into its key details
	// ("I have high blood pressure and diabetes" -> "hypertension,
	// diabetes"). It never fails the caller: on any error the raw value is
	// returned unchanged.
	ExtractDetail(ctx context.Context, question, raw, slotKind string) string

	// DetectConfusion reports whether the utterance is a request to repeat
	// or rephrase the question rather than an answer to it.
	DetectConfusion(ctx context.Context, utterance, question string) bool

	// Rephrase produces a simpler wording of the question. The second return
	// is false when no usable rephrasing was produced.
	Rephrase(ctx context.Context, question string) (string, bool)

	// SelectPreanswered decides which of the ordered follow-up questions are
	// already answered by the response to the parent question. The returned
	// set holds 0-based indices into followups.
	SelectPreanswered(ctx context.Context, question, response string, followups []string) map[int]bool
}
