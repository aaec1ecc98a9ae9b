package intake

import (
	"regexp"
	"strings"
)

// slotPolicy describes how one slot kind is handled when an answer arrives.
// The table below replaces per-slot branching: every new slot is one entry.
type slotPolicy struct {
	// normalize converts the spoken form to a canonical one before any
	// validation. Nil means use the utterance as-is.
	normalize func(string) string
	// localPattern accepts the normalised value without a gateway call.
	// Nil means there is no local format check.
	localPattern *regexp.Regexp
	// noConfirm marks binary medical-history slots: the yes/no decision is
	// trusted and persisted without a confirmation round-trip.
	noConfirm bool
	// freeText marks slots whose committed answers go through structured
	// detail extraction.
	freeText bool
}

var (
	datePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern  = regexp.MustCompile(`^\+?\d{8,12}$`)
	namePattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z .'\-]+$`)
	genderPattern = regexp.MustCompile(`^(male|female)$`)
)

// slotPolicies is keyed by question_title from the catalog. Slots not listed
// here use defaultPolicy (free text, gateway-validated, confirmed).
var slotPolicies = map[string]slotPolicy{
	"name":           {normalize: normalizeName, localPattern: namePattern},
	"full_name":      {normalize: normalizeName, localPattern: namePattern},
	"date_of_birth":  {normalize: normalizeSpokenDate, localPattern: datePattern},
	"gender":         {normalize: normalizeGender, localPattern: genderPattern},
	"email":          {normalize: normalizeSpokenEmail, localPattern: emailPattern},
	"phone_number":   {normalize: normalizeSpokenPhone, localPattern: phonePattern},
	"mobile_number":  {normalize: normalizeSpokenPhone, localPattern: phonePattern},
	"home_phone":     {normalize: normalizeSpokenPhone, localPattern: phonePattern},
	"address":        {},
	"relationship":   {normalize: strings.ToLower},
	"date":           {normalize: normalizeSpokenDate, localPattern: datePattern},
	"diagnosis_date": {normalize: normalizeSpokenDate, localPattern: datePattern},
	"surgery_date":   {normalize: normalizeSpokenDate, localPattern: datePattern},

	// Binary medical-history slots: classified yes/no, persisted without a
	// confirmation round-trip, details extracted into follow-ups.
	"medical_conditions": {noConfirm: true, freeText: true},
	"surgeries":          {noConfirm: true, freeText: true},
	"allergies":          {noConfirm: true, freeText: true},
	"medications":        {noConfirm: true, freeText: true},
	"family_history":     {noConfirm: true, freeText: true},
	"lifestyle":          {noConfirm: true, freeText: true},
	"immunizations":      {noConfirm: true, freeText: true},
	"prior_records":      {noConfirm: true, freeText: true},
}

var defaultPolicy = slotPolicy{freeText: true}

func policyFor(questionTitle string) slotPolicy {
	if p, ok := slotPolicies[questionTitle]; ok {
		return p
	}
	return defaultPolicy
}

// humanSlot turns a slot title into speakable words: "date_of_birth" ->
// "date of birth".
func humanSlot(questionTitle string) string {
	return strings.ReplaceAll(questionTitle, "_", " ")
}

var ordinalSuffix = regexp.MustCompile(`(\d+)(st|nd|rd|th)\b`)

// normalizeSpokenDate strips ordinal suffixes so "november 11th 1990" reads
// as "november 11 1990" before validation converts it to YYYY-MM-DD.
func normalizeSpokenDate(v string) string {
	return collapseSpaces(ordinalSuffix.ReplaceAllString(v, "$1"))
}

// normalizeName title-cases each word of a spoken name.
func normalizeName(v string) string {
	fields := strings.Fields(strings.ToLower(v))
	for i, f := range fields {
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}

var genderSynonyms = map[string]string{
	"m":     "male",
	"man":   "male",
	"boy":   "male",
	"f":     "female",
	"woman": "female",
	"girl":  "female",
}

func normalizeGender(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if canonical, ok := genderSynonyms[v]; ok {
		return canonical
	}
	return v
}

// normalizeSpokenEmail converts dictated email addresses to canonical form:
// "john at example dot com" -> "john@example.com".
func normalizeSpokenEmail(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	replacer := strings.NewReplacer(
		" at mark ", "@",
		" att ", "@",
		" at ", "@",
		" dot ", ".",
		" underscore ", "_",
		" dash ", "-",
	)
	return strings.ReplaceAll(replacer.Replace(v), " ", "")
}

var spokenDigits = map[string]string{
	"zero": "0", "oh": "0", "one": "1", "two": "2", "three": "3",
	"four": "4", "five": "5", "six": "6", "seven": "7", "eight": "8",
	"nine": "9", "plus": "+",
}

// normalizeSpokenPhone converts dictated phone numbers to digits, handling
// number words and the "double four" idiom.
func normalizeSpokenPhone(v string) string {
	var out strings.Builder
	double := false
	for _, word := range strings.Fields(strings.ToLower(v)) {
		word = strings.Trim(word, ".,-")
		digit, ok := spokenDigits[word]
		switch {
		case word == "double":
			double = true
			continue
		case ok:
			out.WriteString(digit)
			if double {
				out.WriteString(digit)
			}
		default:
			// already-digit chunks like "0412" pass through
			for _, r := range word {
				if r >= '0' && r <= '9' || r == '+' {
					out.WriteRune(r)
				}
			}
		}
		double = false
	}
	return out.String()
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapseSpaces(v string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(v, " "))
}
