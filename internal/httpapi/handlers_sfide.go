package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patentify/sfide/internal/sfida"
)

// createSfidaRequest is sent by the accepting client. SelfName is the
// caller's display name; both names end up in the game-start payload so
// neither client needs a profile lookup to label its opponent.
type createSfidaRequest struct {
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name,omitempty"`
	SelfName   string `json:"self_name,omitempty"`
	Tier       string `json:"tier"`
}

type createSfidaResponse struct {
	SessionID     uuid.UUID `json:"session_id"`
	GameStartedAt time.Time `json:"game_started_at"`
}

func (a *api) handleSfidaCreate(w http.ResponseWriter, r *http.Request) {
	var req createSfidaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "malformed request body")
		return
	}

	session, err := a.sfide.StartSession(r.Context(), sfida.StartSessionParams{
		ChallengerID:   currentUser(r.Context()),
		ChallengerName: req.SelfName,
		TargetID:       req.TargetID,
		TargetName:     req.TargetName,
		TierKey:        req.Tier,
	})
	if err != nil {
		WriteSfidaError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, createSfidaResponse{
		SessionID:     session.ID,
		GameStartedAt: session.GameStartedAt,
	})
}

type completeSfidaRequest struct {
	Responses map[int64]bool `json:"responses"`
}

func (a *api) handleSfidaComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_id", "malformed session id")
		return
	}

	var req completeSfidaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "malformed request body")
		return
	}

	result, err := a.sfide.CompletePlayer(r.Context(), sessionID, currentUser(r.Context()), req.Responses)
	if err != nil {
		WriteSfidaError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (a *api) handleSfidaResult(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_id", "malformed session id")
		return
	}

	result, err := a.sfide.GetResult(r.Context(), sessionID, currentUser(r.Context()))
	if err != nil {
		WriteSfidaError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type realtimeTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *api) handleRealtimeToken(w http.ResponseWriter, r *http.Request) {
	token, err := a.tokens.RealtimeToken(r.Context(), currentUser(r.Context()))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "token issuance failed")
		return
	}
	WriteJSON(w, http.StatusOK, realtimeTokenResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}
