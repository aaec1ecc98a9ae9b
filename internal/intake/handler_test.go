package intake

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	m := NewMachine(&fakeCatalog{cat: testCatalog()}, &stubNLU{}, repo, time.Second)
	m.rng = rand.New(rand.NewSource(1))
	h := NewHandler(m, NewRegistry(), nil)

	r := chi.NewRouter()
	RegisterRoutes(r, h)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func postTurn(t *testing.T, srv *httptest.Server, req TurnRequest) (TurnResponse, int) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/turns", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out TurnResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return out, resp.StatusCode
}

func launchConversation(t *testing.T, srv *httptest.Server) launchResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/conversations", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out launchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestLaunchAndFirstTurn(t *testing.T) {
	srv, _ := newTestServer(t)

	launch := launchConversation(t, srv)
	assert.NotEmpty(t, launch.ConversationID)
	assert.Contains(t, launch.Prompt, "Are you ready to begin?")

	// An affirm intent with no utterance counts as "yes".
	out, status := postTurn(t, srv, TurnRequest{
		ConversationID: launch.ConversationID,
		Intent:         IntentAffirm,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, out.Prompt, "What is your full name?")
	assert.True(t, out.KeepSessionOpen)
}

func TestTurnUnknownConversation(t *testing.T) {
	srv, _ := newTestServer(t)
	_, status := postTurn(t, srv, TurnRequest{ConversationID: "missing", Utterance: "yes"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTurnMissingConversationID(t *testing.T) {
	srv, _ := newTestServer(t)
	_, status := postTurn(t, srv, TurnRequest{Utterance: "yes"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEndSessionDropsConversation(t *testing.T) {
	srv, _ := newTestServer(t)
	launch := launchConversation(t, srv)

	out, status := postTurn(t, srv, TurnRequest{
		ConversationID: launch.ConversationID,
		Intent:         IntentEndSession,
	})
	require.Equal(t, http.StatusOK, status)
	assert.False(t, out.KeepSessionOpen)

	_, status = postTurn(t, srv, TurnRequest{ConversationID: launch.ConversationID, Utterance: "yes"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFullInterviewOverHTTP(t *testing.T) {
	srv, repo := newTestServer(t)
	launch := launchConversation(t, srv)

	script := []TurnRequest{
		{Intent: IntentAffirm},
		{Intent: IntentProvideAnswer, Utterance: "john smith"},
		{Intent: IntentAffirm},
		{Intent: IntentProvideAnswer, Utterance: "1990-11-11"},
		{Intent: IntentAffirm},
		{Intent: IntentDeny}, // no surgeries
		{Intent: IntentDeny}, // no allergies
	}
	var last TurnResponse
	for _, req := range script {
		req.ConversationID = launch.ConversationID
		var status int
		last, status = postTurn(t, srv, req)
		require.Equal(t, http.StatusOK, status)
	}

	assert.Contains(t, last.Prompt, "Thank you for completing your medical intake.")
	assert.False(t, last.KeepSessionOpen)

	answers, err := repo.ListAnswers(nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, answers, 4)

	// The finished conversation is gone from the registry.
	_, status := postTurn(t, srv, TurnRequest{ConversationID: launch.ConversationID, Utterance: "hello"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
