package catalog

import "fmt"

// Question is a single entry in the interview catalog. Follow-up questions
// share the same shape and are asked only when the parent answer warrants it.
type Question struct {
	QuestionID    string     `json:"question_id"`
	QuestionTitle string     `json:"question_title"`
	Question      string     `json:"question"`
	FollowUp      []Question `json:"follow_up,omitempty"`
}

// FollowUpID builds the composite answer id for the follow-up at index,
// e.g. "q2_1_0" for the first follow-up of "q2_1".
func (q *Question) FollowUpID(index int) string {
	return fmt.Sprintf("%s_%d", q.QuestionID, index)
}

// FollowUpTexts returns the prompt text of each follow-up in order.
func (q *Question) FollowUpTexts() []string {
	texts := make([]string, len(q.FollowUp))
	for i, f := range q.FollowUp {
		texts[i] = f.Question
	}
	return texts
}

// Section is an ordered group of questions.
type Section struct {
	Questions []Question `json:"questions"`
}

// Catalog is the full interview document: an opening statement, ordered
// sections of questions, and a closing statement.
type Catalog struct {
	Opening  string    `json:"opening"`
	Closing  string    `json:"closing"`
	Sections []Section `json:"sections"`
}

// QuestionAt resolves the question at (section, index). Indices are 0-based.
// Returns nil when the position is outside the catalog.
func (c *Catalog) QuestionAt(section, index int) *Question {
	if c == nil || section < 0 || section >= len(c.Sections) {
		return nil
	}
	questions := c.Sections[section].Questions
	if index < 0 || index >= len(questions) {
		return nil
	}
	return &questions[index]
}
