package intake

import "fmt"

// prompts.go holds the spoken wording used by the state machine. Pools give
// the voice some variety; selection goes through Machine.pick so tests can
// seed the randomness.

// BreakMarker is the inline pause directive understood by the rendering
// layer.
const BreakMarker = "<break time='1s'/>"

const (
	// retrieveErrorMsg is spoken when the question catalog cannot be loaded.
	retrieveErrorMsg = "Sorry, I couldn't retrieve the questions. Please try again later."

	// corruptStateMsg is spoken when required scratch state went missing.
	corruptStateMsg = "I'm sorry, something went wrong on my end. Let's pick up where we left off."

	waitForReadyMsg = "No problem. Take your time, and just say yes whenever you're ready to begin."

	firstQuestionLeadIn = "Great! Let me start by asking your personal information. "

	nextQuestionLeadIn = "Here is your next question: "

	sectionTransitionLeadIn = "Let's move to the next section. "
)

// openingRephrasings are alternative readiness prompts used when the
// patient's reply was unclear, so the opening never repeats verbatim.
var openingRephrasings = []string{
	"When you're ready to begin your medical intake, just say yes.",
	"Shall we get started with your medical history questions? Please say yes or no.",
	"I'd like to ask you some questions about your health. Are you ready to begin?",
	"We can start whenever you like. Would you like to begin now?",
}

// acknowledgements optionally prefix the next question after a denied
// medical-history question.
var acknowledgements = []string{
	"Okay.",
	"Alright.",
	"Got it.",
	"Thanks for letting me know.",
}

// structuredConfirmTemplates confirm normalised values such as dates and
// phone numbers.
var structuredConfirmTemplates = []string{
	"I heard %s. Is that correct?",
	"Let me check: %s. Is that right?",
	"I've got %s. Did I get that right?",
}

// freeTextConfirmTemplates confirm free-text answers.
var freeTextConfirmTemplates = []string{
	"Just to confirm, you said: %s. Is that right?",
	"So that was: %s. Is that correct?",
}

// followupConfirmPrompt is the fixed wording for follow-up confirmations.
func followupConfirmPrompt(value string) string {
	return fmt.Sprintf("Just to confirm, you meant: %s. Is that correct?", value)
}

func savedPrompt(questionTitle string) string {
	return fmt.Sprintf("Okay, your %s has been saved.", humanSlot(questionTitle))
}

func didntCatchPrompt(questionTitle string) string {
	slot := humanSlot(questionTitle)
	return fmt.Sprintf("I didn't catch that. Could you please provide your %s again?", slot)
}

func invalidPrompt(value, rewordedQuestion string) string {
	return fmt.Sprintf("I'm sorry, but %s doesn't seem valid. %s", value, rewordedQuestion)
}

func reaskPrompt(question string) string {
	return "No problem. " + question
}
