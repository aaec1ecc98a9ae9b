package intake

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"medical-intake-agent/internal/catalog"
	"medical-intake-agent/internal/interpret"
)

// CatalogSource provides the interview question catalog.
// We define it here to decouple from the catalog storage implementation.
type CatalogSource interface {
	GetCatalog(ctx context.Context) (*catalog.Catalog, error)
}

// Turn is one inbound patient utterance, optionally carrying structured slot
// values resolved by the voice platform.
type Turn struct {
	Utterance string
	Slots     map[string]string
}

// TurnResult is what the dispatcher renders back to the voice channel.
type TurnResult struct {
	Prompt   string
	KeepOpen bool
}

const defaultNLUTimeout = 8 * time.Second

// Machine is the dialogue state machine. It holds no per-session state
// itself; each turn mutates the Session it is handed. A single Machine
// serves many concurrent sessions.
type Machine struct {
	catalog    CatalogSource
	nlu        interpret.Client
	repo       Repository
	nluTimeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMachine(cat CatalogSource, nlu interpret.Client, repo Repository, nluTimeout time.Duration) *Machine {
	if nluTimeout <= 0 {
		nluTimeout = defaultNLUTimeout
	}
	return &Machine{
		catalog:    cat,
		nlu:        nlu,
		repo:       repo,
		nluTimeout: nluTimeout,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Open delivers the opening prompt for a freshly created session. The
// session stays in the readiness state until the patient agrees to start.
func (m *Machine) Open(ctx context.Context, s *Session) TurnResult {
	cat := m.loadCatalog(ctx)
	if cat == nil {
		return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
	}
	s.LastOpeningPrompt = cat.Opening
	return TurnResult{Prompt: cat.Opening, KeepOpen: true}
}

// ProcessTurn runs one transition of the state machine. It never returns an
// error to the channel: every failure degrades into a re-prompt.
func (m *Machine) ProcessTurn(ctx context.Context, s *Session, turn Turn) TurnResult {
	utterance := strings.TrimSpace(turn.Utterance)

	if !s.scratchValid() {
		log.Printf("session %d: corrupt scratch state in mode %s, resetting", s.SessionID, s.Mode)
		return m.recoverCorrupt(ctx, s)
	}

	switch s.Mode {
	case ModeAwaitingReadiness:
		return m.handleReadiness(ctx, s, utterance)
	case ModeAwaitingFollowupConfirmation:
		return m.handleFollowupConfirmation(ctx, s, utterance)
	case ModeAwaitingConfirmation:
		return m.handleConfirmation(ctx, s, utterance)
	case ModeAwaitingFollowupAnswer:
		return m.handleFollowupAnswer(ctx, s, utterance)
	case ModeAwaitingAnswer:
		return m.handleAnswer(ctx, s, turn, utterance)
	case ModeTerminal:
		return m.handleTerminal(ctx, s)
	default:
		log.Printf("session %d: unknown mode %d", s.SessionID, s.Mode)
		return m.recoverCorrupt(ctx, s)
	}
}

// EndSession stamps the session end when the channel closes the conversation.
func (m *Machine) EndSession(ctx context.Context, s *Session) {
	if s.SessionID == 0 {
		return
	}
	if err := m.repo.CloseSession(ctx, s.SessionID, s.PatientID, time.Now().UTC()); err != nil {
		log.Printf("session %d: failed to stamp session end: %v", s.SessionID, err)
	}
}

// handleReadiness waits for the patient to agree to start. On yes the
// session ids are allocated and the first question is asked.
func (m *Machine) handleReadiness(ctx context.Context, s *Session, utterance string) TurnResult {
	cat := m.loadCatalog(ctx)
	if cat == nil {
		return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
	}

	switch m.classify(ctx, s, utterance, cat.Opening) {
	case interpret.Yes:
		sessionID, err := m.repo.NextSequence(ctx, "session_id")
		if err == nil {
			var patientID int64
			patientID, err = m.repo.NextSequence(ctx, "patient_id")
			s.PatientID = patientID
		}
		if err != nil {
			log.Printf("failed to allocate session ids: %v", err)
			return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
		}
		s.SessionID = sessionID
		s.SessionStart = time.Now().UTC()
		s.Section = 0
		s.Question = 0
		s.Mode = ModeAwaitingAnswer
		if err := m.repo.TouchSession(ctx, s.SessionID, s.PatientID, s.SessionStart); err != nil {
			log.Printf("session %d: failed to record session start: %v", s.SessionID, err)
		}

		first := cat.QuestionAt(0, 0)
		if first == nil {
			s.Mode = ModeTerminal
			return TurnResult{Prompt: cat.Closing}
		}
		return TurnResult{Prompt: firstQuestionLeadIn + first.Question, KeepOpen: true}

	case interpret.No:
		return TurnResult{Prompt: waitForReadyMsg, KeepOpen: true}

	default:
		// Re-issue a rephrasing of the opening, never the same wording twice.
		prompt := m.pickExcluding(openingRephrasings, s.LastOpeningPrompt)
		s.LastOpeningPrompt = prompt
		return TurnResult{Prompt: prompt, KeepOpen: true}
	}
}

// handleAnswer processes a raw answer to the current main question.
func (m *Machine) handleAnswer(ctx context.Context, s *Session, turn Turn, utterance string) TurnResult {
	cat := m.loadCatalog(ctx)
	if cat == nil {
		return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
	}
	q := cat.QuestionAt(s.Section, s.Question)
	if q == nil {
		return m.finish(ctx, s, cat, "")
	}

	// Prefer the platform-resolved slot value when one matches this slot.
	if v, ok := turn.Slots[q.QuestionTitle]; ok && strings.TrimSpace(v) != "" {
		utterance = strings.TrimSpace(v)
	}
	if utterance == "" {
		return TurnResult{Prompt: didntCatchPrompt(q.QuestionTitle), KeepOpen: true}
	}

	// A repeat request re-issues the question and changes nothing else.
	if m.detectRepeat(ctx, utterance, q.Question) {
		return TurnResult{Prompt: m.rephrase(ctx, q.Question), KeepOpen: true}
	}

	pol := policyFor(q.QuestionTitle)
	if pol.noConfirm {
		return m.handleBinaryAnswer(ctx, s, cat, q, utterance)
	}

	value := utterance
	if pol.normalize != nil {
		value = pol.normalize(value)
	}
	if value == "" {
		return TurnResult{Prompt: didntCatchPrompt(q.QuestionTitle), KeepOpen: true}
	}

	// Local format check first; the gateway validates whatever fails it or
	// has no local check at all.
	valid, result := true, value
	if pol.localPattern == nil || !pol.localPattern.MatchString(value) {
		valid, result = m.validate(ctx, s, q.QuestionTitle, value, q.Question)
	}
	if !valid {
		// result carries the reworded question; state is unchanged.
		return TurnResult{Prompt: invalidPrompt(value, result), KeepOpen: true}
	}

	s.Pending = &PendingAnswer{
		QuestionID:    q.QuestionID,
		QuestionTitle: q.QuestionTitle,
		Question:      q.Question,
		Value:         result,
		Raw:           utterance,
	}
	templates := structuredConfirmTemplates
	if pol.freeText {
		templates = freeTextConfirmTemplates
	}
	s.ConfirmPrompt = fmt.Sprintf(m.pick(templates), result)
	s.Mode = ModeAwaitingConfirmation
	return TurnResult{Prompt: s.ConfirmPrompt, KeepOpen: true}
}

// handleBinaryAnswer handles the no-confirmation medical-history slots: the
// yes/no decision is trusted and persisted immediately, and any inline
// detail skips straight to follow-up confirmation.
func (m *Machine) handleBinaryAnswer(ctx context.Context, s *Session, cat *catalog.Catalog, q *catalog.Question, utterance string) TurnResult {
	verdict, detail := m.classifyDetail(ctx, s, utterance, q.Question)
	if verdict == interpret.Unclear {
		return TurnResult{Prompt: didntCatchPrompt(q.QuestionTitle), KeepOpen: true}
	}

	decision := "no"
	if verdict == interpret.Yes {
		decision = "yes"
	}
	m.commit(ctx, s, q.QuestionID, q.QuestionTitle, decision)

	if verdict == interpret.Yes && len(q.FollowUp) > 0 {
		if detailProduced(detail, utterance) {
			// The answer already carried the first follow-up's substance;
			// just confirm it under the first follow-up's identity.
			first := queuedFollowup(q, 0)
			s.PendingFollowup = &PendingFollowup{QueuedFollowup: first, Value: detail, Raw: utterance}
			s.FollowupQueue = queueFollowups(q, 1, nil)
			s.ConfirmPrompt = followupConfirmPrompt(detail)
			s.Mode = ModeAwaitingFollowupConfirmation
			return TurnResult{Prompt: s.ConfirmPrompt, KeepOpen: true}
		}
		// No inline detail: walk every follow-up, no gate question first.
		s.FollowupQueue = queueFollowups(q, 0, nil)
		s.Mode = ModeAwaitingFollowupAnswer
		return TurnResult{Prompt: s.FollowupQueue[0].Question, KeepOpen: true}
	}

	prefix := ""
	if verdict == interpret.No {
		prefix = m.pick(acknowledgements)
	}
	return m.advance(ctx, s, cat, prefix)
}

// handleConfirmation resolves a pending main answer.
func (m *Machine) handleConfirmation(ctx context.Context, s *Session, utterance string) TurnResult {
	pending := s.Pending

	switch m.classify(ctx, s, utterance, s.ConfirmPrompt) {
	case interpret.Yes:
		m.commit(ctx, s, pending.QuestionID, pending.QuestionTitle, pending.Value)
		s.Pending = nil
		s.ConfirmPrompt = ""
		return m.afterMainCommit(ctx, s, pending)

	case interpret.No:
		// Discard the candidate and ask the original question again.
		question := pending.Question
		s.clearTransient()
		s.Mode = ModeAwaitingAnswer
		return TurnResult{Prompt: reaskPrompt(question), KeepOpen: true}

	default:
		return TurnResult{Prompt: s.ConfirmPrompt, KeepOpen: true}
	}
}

// afterMainCommit decides, for a freshly committed main answer, whether to
// branch into the follow-up sub-dialogue or move on.
func (m *Machine) afterMainCommit(ctx context.Context, s *Session, committed *PendingAnswer) TurnResult {
	cat := m.loadCatalog(ctx)
	if cat == nil {
		return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
	}
	q := cat.QuestionAt(s.Section, s.Question)
	if q == nil || q.QuestionID != committed.QuestionID {
		// Catalog shifted underneath us; move on rather than guessing.
		return m.advance(ctx, s, cat, savedPrompt(committed.QuestionTitle))
	}

	pol := policyFor(committed.QuestionTitle)
	detail := ""
	if pol.freeText || s.Section >= 2 {
		detail = m.extract(ctx, q.Question, committed.Raw, committed.QuestionTitle)
	}
	hasDetail := detailProduced(detail, committed.Raw)

	if len(q.FollowUp) > 0 && (pol.freeText || hasDetail || m.impliesAffirmation(ctx, s, committed.Raw, q.Question)) {
		// Skip follow-ups the answer has already covered.
		basis := committed.Raw
		if hasDetail {
			basis = detail
		}
		skip := m.preanswered(ctx, q.Question, basis, q.FollowUpTexts())
		queue := queueFollowups(q, 0, skip)
		if len(queue) > 0 {
			if hasDetail {
				s.PendingFollowup = &PendingFollowup{QueuedFollowup: queue[0], Value: detail, Raw: committed.Raw}
				s.FollowupQueue = queue[1:]
				s.ConfirmPrompt = followupConfirmPrompt(detail)
				s.Mode = ModeAwaitingFollowupConfirmation
				return TurnResult{Prompt: s.ConfirmPrompt, KeepOpen: true}
			}
			s.FollowupQueue = queue
			s.Mode = ModeAwaitingFollowupAnswer
			return TurnResult{Prompt: queue[0].Question, KeepOpen: true}
		}
	}

	return m.advance(ctx, s, cat, savedPrompt(committed.QuestionTitle))
}

// handleFollowupAnswer treats the utterance as the answer to the follow-up
// at the head of the queue.
func (m *Machine) handleFollowupAnswer(ctx context.Context, s *Session, utterance string) TurnResult {
	active := s.FollowupQueue[0]

	if utterance == "" {
		return TurnResult{Prompt: didntCatchPrompt(active.QuestionTitle), KeepOpen: true}
	}
	if m.detectRepeat(ctx, utterance, active.Question) {
		return TurnResult{Prompt: m.rephrase(ctx, active.Question), KeepOpen: true}
	}

	detail := m.extract(ctx, active.Question, utterance, active.QuestionTitle)
	if strings.TrimSpace(detail) == "" {
		detail = utterance
	}

	s.PendingFollowup = &PendingFollowup{QueuedFollowup: active, Value: detail, Raw: utterance}
	s.FollowupQueue = s.FollowupQueue[1:]
	s.ConfirmPrompt = followupConfirmPrompt(detail)
	s.Mode = ModeAwaitingFollowupConfirmation
	return TurnResult{Prompt: s.ConfirmPrompt, KeepOpen: true}
}

// handleFollowupConfirmation resolves a pending follow-up answer.
func (m *Machine) handleFollowupConfirmation(ctx context.Context, s *Session, utterance string) TurnResult {
	pending := s.PendingFollowup

	switch m.classify(ctx, s, utterance, s.ConfirmPrompt) {
	case interpret.Yes:
		m.commit(ctx, s, pending.QuestionID, pending.QuestionTitle, pending.Value)
		s.PendingFollowup = nil
		s.ConfirmPrompt = ""
		if len(s.FollowupQueue) > 0 {
			s.Mode = ModeAwaitingFollowupAnswer
			return TurnResult{Prompt: s.FollowupQueue[0].Question, KeepOpen: true}
		}
		cat := m.loadCatalog(ctx)
		if cat == nil {
			return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
		}
		return m.advance(ctx, s, cat, m.pick(acknowledgements))

	case interpret.No:
		// Put the follow-up back at the head of the queue with its response
		// cleared and ask it afresh.
		restored := pending.QueuedFollowup
		s.PendingFollowup = nil
		s.ConfirmPrompt = ""
		s.FollowupQueue = append([]QueuedFollowup{restored}, s.FollowupQueue...)
		s.Mode = ModeAwaitingFollowupAnswer
		return TurnResult{Prompt: reaskPrompt(restored.Question), KeepOpen: true}

	default:
		return TurnResult{Prompt: s.ConfirmPrompt, KeepOpen: true}
	}
}

func (m *Machine) handleTerminal(ctx context.Context, s *Session) TurnResult {
	cat := m.loadCatalog(ctx)
	closing := "Thank you, the interview is complete."
	if cat != nil {
		closing = cat.Closing
	}
	return TurnResult{Prompt: closing, KeepOpen: false}
}

// advance moves the question pointer forward and asks the next question, or
// finishes the interview when the catalog is exhausted. prefix, when set, is
// spoken before the next prompt with a pause in between.
func (m *Machine) advance(ctx context.Context, s *Session, cat *catalog.Catalog, prefix string) TurnResult {
	s.Question++
	if q := cat.QuestionAt(s.Section, s.Question); q != nil {
		return TurnResult{Prompt: joinSpoken(prefix, nextQuestionLeadIn+q.Question), KeepOpen: true}
	}

	s.Section++
	s.Question = 0
	if q := cat.QuestionAt(s.Section, 0); q != nil {
		return TurnResult{Prompt: joinSpoken(prefix, sectionTransitionLeadIn+q.Question), KeepOpen: true}
	}

	return m.finish(ctx, s, cat, prefix)
}

// finish transitions to Terminal and delivers the closing statement.
func (m *Machine) finish(ctx context.Context, s *Session, cat *catalog.Catalog, prefix string) TurnResult {
	s.Mode = ModeTerminal
	s.clearTransient()
	if s.SessionID != 0 {
		if err := m.repo.CloseSession(ctx, s.SessionID, s.PatientID, time.Now().UTC()); err != nil {
			log.Printf("session %d: failed to stamp session end: %v", s.SessionID, err)
		}
	}
	return TurnResult{Prompt: joinSpoken(prefix, cat.Closing), KeepOpen: false}
}

// recoverCorrupt apologises, clears the offending scratch state, and
// re-prompts for the current question instead of crashing the session.
func (m *Machine) recoverCorrupt(ctx context.Context, s *Session) TurnResult {
	s.clearTransient()
	if s.SessionID == 0 {
		s.Mode = ModeAwaitingReadiness
		cat := m.loadCatalog(ctx)
		if cat == nil {
			return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
		}
		s.LastOpeningPrompt = cat.Opening
		return TurnResult{Prompt: corruptStateMsg + " " + cat.Opening, KeepOpen: true}
	}
	s.Mode = ModeAwaitingAnswer
	cat := m.loadCatalog(ctx)
	if cat == nil {
		return TurnResult{Prompt: retrieveErrorMsg, KeepOpen: true}
	}
	q := cat.QuestionAt(s.Section, s.Question)
	if q == nil {
		return m.finish(ctx, s, cat, corruptStateMsg)
	}
	return TurnResult{Prompt: corruptStateMsg + " " + q.Question, KeepOpen: true}
}

// commit stores an answer on the session and persists it immediately.
// Persistence failures are logged, never surfaced to the patient.
func (m *Machine) commit(ctx context.Context, s *Session, questionID, label, value string) {
	s.PatientData[questionID] = Answer{Label: label, Value: value}
	err := m.repo.UpsertAnswer(ctx, s.SessionID, s.PatientID, AnswerRecord{
		QuestionID: questionID,
		Label:      label,
		Value:      value,
		Time:       time.Now().UTC(),
	})
	if err != nil {
		log.Printf("session %d: failed to persist answer %s: %v", s.SessionID, questionID, err)
	}
}

// impliesAffirmation reports whether a raw free-text answer reads as an
// affirmative, which is what opens a follow-up sub-dialogue.
func (m *Machine) impliesAffirmation(ctx context.Context, s *Session, raw, question string) bool {
	return m.classify(ctx, s, raw, question) == interpret.Yes
}

// loadCatalog fetches the catalog, returning nil on any failure.
func (m *Machine) loadCatalog(ctx context.Context) *catalog.Catalog {
	cat, err := m.catalog.GetCatalog(ctx)
	if err != nil {
		log.Printf("failed to load question catalog: %v", err)
		return nil
	}
	return cat
}

// Gateway wrappers. Each bounds the call with the NLU timeout and degrades
// to the documented safe default on failure.

func (m *Machine) classify(ctx context.Context, s *Session, utterance, question string) interpret.Verdict {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	verdict, err := m.nlu.ClassifyYesNo(ctx, utterance, question)
	if err != nil {
		log.Printf("session %d: yes/no classification failed for %q: %v", s.SessionID, utterance, err)
		return interpret.Unclear
	}
	return verdict
}

func (m *Machine) classifyDetail(ctx context.Context, s *Session, utterance, question string) (interpret.Verdict, string) {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	verdict, detail, err := m.nlu.ClassifyYesNoDetail(ctx, utterance, question)
	if err != nil {
		log.Printf("session %d: detail classification failed for %q: %v", s.SessionID, utterance, err)
		return interpret.Unclear, ""
	}
	return verdict, detail
}

func (m *Machine) validate(ctx context.Context, s *Session, slotKind, value, question string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	valid, result, err := m.nlu.ValidateSlot(ctx, slotKind, value, question)
	if err != nil {
		log.Printf("session %d: validation failed for slot %s, accepting raw value: %v", s.SessionID, slotKind, err)
		return true, value
	}
	if result == "" {
		result = value
	}
	return valid, result
}

func (m *Machine) extract(ctx context.Context, question, raw, slotKind string) string {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	return m.nlu.ExtractDetail(ctx, question, raw, slotKind)
}

func (m *Machine) detectRepeat(ctx context.Context, utterance, question string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	return m.nlu.DetectConfusion(ctx, utterance, question)
}

// rephrase returns a simpler wording of the question, or the question itself
// when the gateway has nothing better.
func (m *Machine) rephrase(ctx context.Context, question string) string {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	if reworded, ok := m.nlu.Rephrase(ctx, question); ok {
		return reworded
	}
	return question
}

func (m *Machine) preanswered(ctx context.Context, question, response string, followups []string) map[int]bool {
	ctx, cancel := context.WithTimeout(ctx, m.nluTimeout)
	defer cancel()
	return m.nlu.SelectPreanswered(ctx, question, response, followups)
}

// pick returns a random element of the pool.
func (m *Machine) pick(pool []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pool[m.rng.Intn(len(pool))]
}

// pickExcluding returns a random element of the pool other than last.
func (m *Machine) pickExcluding(pool []string, last string) string {
	candidates := make([]string, 0, len(pool))
	for _, p := range pool {
		if p != last {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return pool[0]
	}
	return m.pick(candidates)
}

// queuedFollowup builds the queue entry for q's follow-up at index.
func queuedFollowup(q *catalog.Question, index int) QueuedFollowup {
	f := q.FollowUp[index]
	title := f.QuestionTitle
	if title == "" {
		title = q.QuestionTitle
	}
	return QueuedFollowup{
		Index:         index,
		QuestionID:    q.FollowUpID(index),
		QuestionTitle: title,
		Question:      f.Question,
	}
}

// queueFollowups queues q's follow-ups from index on, skipping any marked as
// already answered.
func queueFollowups(q *catalog.Question, from int, skip map[int]bool) []QueuedFollowup {
	var queue []QueuedFollowup
	for i := from; i < len(q.FollowUp); i++ {
		if skip[i] {
			continue
		}
		queue = append(queue, queuedFollowup(q, i))
	}
	return queue
}

// detailProduced reports whether extraction yielded something beyond the raw
// utterance. The gateway returns the raw value on failure, so equality after
// whitespace folding means "no detail".
func detailProduced(detail, raw string) bool {
	detail = collapseSpaces(detail)
	if detail == "" {
		return false
	}
	return !strings.EqualFold(detail, collapseSpaces(raw))
}

// joinSpoken concatenates spoken fragments with a pause marker between them.
func joinSpoken(prefix, rest string) string {
	if prefix == "" {
		return rest
	}
	return prefix + BreakMarker + " " + rest
}
