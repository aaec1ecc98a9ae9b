package intake

import (
	"time"
)

// Mode is the dialogue state of a session. Exactly one mode is active at a
// time; each mode owns the scratch fields listed on Session.
type Mode int

const (
	// ModeAwaitingReadiness waits for the patient to agree to start.
	ModeAwaitingReadiness Mode = iota
	// ModeAwaitingAnswer expects a raw answer to the current main question.
	ModeAwaitingAnswer
	// ModeAwaitingConfirmation has a candidate main answer pending and
	// expects a yes/no on it.
	ModeAwaitingConfirmation
	// ModeAwaitingFollowupAnswer expects a raw answer to the follow-up at
	// the head of the queue.
	ModeAwaitingFollowupAnswer
	// ModeAwaitingFollowupConfirmation has a candidate follow-up answer
	// pending and expects a yes/no on it.
	ModeAwaitingFollowupConfirmation
	// ModeTerminal means the catalog is exhausted and the closing statement
	// has been delivered.
	ModeTerminal
)

func (m Mode) String() string {
	switch m {
	case ModeAwaitingReadiness:
		return "awaiting_readiness"
	case ModeAwaitingAnswer:
		return "awaiting_answer"
	case ModeAwaitingConfirmation:
		return "awaiting_confirmation"
	case ModeAwaitingFollowupAnswer:
		return "awaiting_followup_answer"
	case ModeAwaitingFollowupConfirmation:
		return "awaiting_followup_confirmation"
	case ModeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Answer is one confirmed (or trusted) answer held on the session, keyed by
// question id in Session.PatientData.
type Answer struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PendingAnswer is a candidate answer to a main question, held until the
// patient confirms it.
type PendingAnswer struct {
	QuestionID    string
	QuestionTitle string
	Question      string
	Value         string // normalised/validated value proposed to the patient
	Raw           string // what the patient actually said
}

// QueuedFollowup identifies one follow-up question waiting to be asked.
type QueuedFollowup struct {
	Index         int    // position within the parent's follow_up list
	QuestionID    string // composite id: "{parent_id}_{index}"
	QuestionTitle string
	Question      string
}

// PendingFollowup is a candidate follow-up answer held until confirmed.
type PendingFollowup struct {
	QueuedFollowup
	Value string
	Raw   string
}

// Session is one interview instance. All scratch state lives here; nothing
// is persisted until an answer is committed through the repository.
type Session struct {
	ConversationID string
	SessionID      int64
	PatientID      int64
	SessionStart   time.Time

	Section  int
	Question int

	PatientData map[string]Answer

	Mode            Mode
	Pending         *PendingAnswer
	PendingFollowup *PendingFollowup
	FollowupQueue   []QueuedFollowup

	// ConfirmPrompt is the confirmation question currently in play, kept so
	// yes/no classification can run against the exact wording used.
	ConfirmPrompt string

	// LastOpeningPrompt is the most recent readiness wording, so an unclear
	// reply never hears the same sentence twice in a row.
	LastOpeningPrompt string
}

// NewSession returns a session waiting for the patient to agree to start.
func NewSession(conversationID string) *Session {
	return &Session{
		ConversationID: conversationID,
		Mode:           ModeAwaitingReadiness,
		PatientData:    make(map[string]Answer),
	}
}

// clearTransient drops all pending scratch state. The section/question
// pointers are left untouched so the same question can be re-asked.
func (s *Session) clearTransient() {
	s.Pending = nil
	s.PendingFollowup = nil
	s.FollowupQueue = nil
	s.ConfirmPrompt = ""
}

// scratchValid reports whether the scratch state required by the current
// mode is present and well formed.
func (s *Session) scratchValid() bool {
	switch s.Mode {
	case ModeAwaitingConfirmation:
		return s.Pending != nil && s.Pending.QuestionID != "" && s.ConfirmPrompt != ""
	case ModeAwaitingFollowupConfirmation:
		return s.PendingFollowup != nil && s.PendingFollowup.QuestionID != "" && s.ConfirmPrompt != ""
	case ModeAwaitingFollowupAnswer:
		return len(s.FollowupQueue) > 0 && s.FollowupQueue[0].QuestionID != ""
	default:
		return true
	}
}
