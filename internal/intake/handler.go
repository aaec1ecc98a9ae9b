package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Reporter delivers the intake summary once an interview completes.
// We define it here to decouple from the report implementation.
type Reporter interface {
	SendIntakeReport(ctx context.Context, s Session) error
}

// Intent labels the voice platform attaches to inbound turns.
const (
	IntentLaunch        = "launch"
	IntentProvideAnswer = "provide_answer"
	IntentAffirm        = "affirm"
	IntentDeny          = "deny"
	IntentFallback      = "fallback"
	IntentEndSession    = "end_session"
)

type Handler struct {
	machine  *Machine
	sessions *Registry
	reporter Reporter
}

func NewHandler(machine *Machine, sessions *Registry, reporter Reporter) *Handler {
	return &Handler{machine: machine, sessions: sessions, reporter: reporter}
}

type launchResponse struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
}

// TurnRequest is the inbound turn envelope from the voice channel.
type TurnRequest struct {
	ConversationID string            `json:"conversation_id"`
	Intent         string            `json:"intent"`
	Utterance      string            `json:"utterance"`
	Slots          map[string]string `json:"slots,omitempty"`
}

// TurnResponse is rendered back to the channel. The prompt may contain
// <break time='1s'/> pause markers.
type TurnResponse struct {
	Prompt          string `json:"prompt"`
	KeepSessionOpen bool   `json:"keep_session_open"`
}

// HandleLaunch starts a new conversation and returns the opening prompt.
func (h *Handler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	result := h.machine.Open(r.Context(), s)
	writeJSON(w, launchResponse{
		ConversationID: s.ConversationID,
		Prompt:         result.Prompt,
	})
}

// HandleTurn dispatches one utterance onto the state machine.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		http.Error(w, "Missing conversation_id", http.StatusBadRequest)
		return
	}

	utterance := req.Utterance
	switch req.Intent {
	case IntentAffirm:
		if utterance == "" {
			utterance = "yes"
		}
	case IntentDeny:
		if utterance == "" {
			utterance = "no"
		}
	case IntentEndSession:
		h.endConversation(r.Context(), req.ConversationID)
		writeJSON(w, TurnResponse{KeepSessionOpen: false})
		return
	case IntentLaunch, IntentProvideAnswer, IntentFallback, "":
		// utterance passes through unchanged
	}

	var result TurnResult
	err := h.sessions.With(req.ConversationID, func(s *Session) {
		result = h.machine.ProcessTurn(r.Context(), s, Turn{Utterance: utterance, Slots: req.Slots})
		if s.Mode == ModeTerminal && h.reporter != nil {
			// Completed interview: hand the summary off in the background.
			go func(snapshot Session) {
				if err := h.reporter.SendIntakeReport(context.Background(), snapshot); err != nil {
					log.Printf("session %d: failed to send intake report: %v", snapshot.SessionID, err)
				}
			}(*s)
		}
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			http.Error(w, "Unknown conversation", http.StatusNotFound)
			return
		}
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	if !result.KeepOpen {
		h.sessions.Drop(req.ConversationID)
	}
	writeJSON(w, TurnResponse{Prompt: result.Prompt, KeepSessionOpen: result.KeepOpen})
}

func (h *Handler) endConversation(ctx context.Context, conversationID string) {
	err := h.sessions.With(conversationID, func(s *Session) {
		h.machine.EndSession(ctx, s)
	})
	if err != nil && !errors.Is(err, ErrConversationNotFound) {
		log.Printf("failed to end conversation %s: %v", conversationID, err)
	}
	h.sessions.Drop(conversationID)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/conversations", h.HandleLaunch)
	r.Post("/turns", h.HandleTurn)
	r.Get("/health", h.HandleHealth)
}
