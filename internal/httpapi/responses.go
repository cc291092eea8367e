package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/patentify/sfide/internal/quiz"
	"github.com/patentify/sfide/internal/sfida"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteSfidaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sfida.ErrEmptyPlayerID), errors.Is(err, sfida.ErrSamePlayer):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, sfida.ErrUnknownTier):
		WriteError(w, http.StatusBadRequest, "unknown_tier", "unknown challenge tier")
	case errors.Is(err, sfida.ErrPlayerBusy):
		WriteError(w, http.StatusConflict, "player_busy", "a player already has a duel in progress")
	case errors.Is(err, sfida.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, sfida.ErrNotParticipant):
		WriteError(w, http.StatusForbidden, "forbidden", "not a participant of this session")
	case errors.Is(err, quiz.ErrQuizNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "quiz not found")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
