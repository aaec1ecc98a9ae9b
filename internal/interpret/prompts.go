package interpret

// prompts.go holds the instruction templates sent to the language model.
// Keeping them in one file makes the wire contracts (VALID|..., INVALID|...,
// YES|detail) easy to audit against the parsers in openai.go.

const (
	classifySystem = "You judge short spoken patient replies during a medical intake interview. " +
		"Answer with exactly one word: YES, NO or UNCLEAR."

	classifyTemplate = "The patient was asked: %q\nThe patient replied: %q\n" +
		"Does the reply affirm, deny, or is it unclear?"

	classifyDetailSystem = "You judge short spoken patient replies during a medical intake interview. " +
		"Reply on a single line. If the patient affirms and mentions a concrete detail " +
		"(a condition, procedure, allergy, date or similar), reply in the form YES|detail " +
		"with the detail in concise clinical terms. If the patient affirms without a detail, " +
		"reply YES. If the patient denies, reply NO. Otherwise reply UNCLEAR."

	classifyDetailTemplate = "The patient was asked: %q\nThe patient replied: %q"

	validateSystem = "You validate spoken answers during a medical intake interview. " +
		"Reply on a single line.\n" +
		"- If the response correctly answers the question and can be normalised " +
		"(date, phone number, email, address or name correction), reply VALID|[formatted value].\n" +
		"- If the response is valid and needs no formatting, reply VALID.\n" +
		"- If the response does not answer the question, reply INVALID|[reworded question], " +
		"where the reworded question restates the original more simply so the patient " +
		"understands what is needed."

	validateTemplate = "Validation rule for this slot: %s\nThe patient was asked: %q\nPatient response: %q"

	extractSystem = "You extract structured details from spoken patient answers. " +
		"Return only the key details in a concise format (e.g. \"hypertension, diabetes\"). " +
		"If no structured details can be extracted, return the original response unchanged."

	extractTemplate = "The patient was asked: %q\nThe patient responded: %q"

	extractSlotHint = "\nThe detail being collected is: %s."

	confusionSystem = "You detect when a patient is asking for the question to be repeated or " +
		"saying they did not understand, instead of answering it. " +
		"Reply with exactly one word: REPEAT or ANSWER."

	confusionTemplate = "The patient was asked: %q\nThe patient said: %q"

	rephraseSystem = "You reword medical intake questions into simpler, clearer spoken language " +
		"without changing what is being asked. Return only the reworded question."

	rephraseTemplate = "Reword this question: %q"

	preansweredSystem = "You are given a patient's answer to a medical intake question and a " +
		"numbered list of follow-up questions. Decide which follow-ups the answer has already " +
		"covered. Reply with the comma-separated numbers of the covered follow-ups, or NONE."

	preansweredTemplate = "The patient was asked: %q\nThe patient answered: %q\nFollow-up questions:\n%s"
)

// validationRules mirrors the per-slot guidance the original service used.
// Unknown slots fall through to the free-text rule.
var validationRules = map[string]string{
	"name":          "Ensure the name contains only alphabetic characters and follows a typical full name format.",
	"date_of_birth": "Convert the response into YYYY-MM-DD format if possible. If invalid, request clarification.",
	"gender":        "Ensure the response is either 'male' or 'female'.",
	"phone_number":  "Ensure the response is a valid phone number. If valid, convert spoken numbers into digit format.",
	"email":         "Convert spoken email addresses into standard format (e.g. 'john at example dot com' becomes 'john@example.com').",
	"address":       "Ensure the response is a plausible residential address and normalise its format.",
}

const freeTextRule = "Ensure the response is relevant to the question, contains key information, and is not off-topic."

func ruleFor(slotKind string) string {
	if rule, ok := validationRules[slotKind]; ok {
		return rule
	}
	return freeTextRule
}
