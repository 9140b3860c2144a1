package handlers

import (
	"net/http"

	"github.com/Dosada05/pong-arena/services"
)

type MatchHandler struct {
	ledger *services.LedgerService
}

func NewMatchHandler(ledger *services.LedgerService) *MatchHandler {
	return &MatchHandler{ledger: ledger}
}

// GetMatchHandler handles GET /matches/{matchID}
func (h *MatchHandler) GetMatchHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.ledger.GetMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetPlayerHandler handles GET /players/{playerID}: rating and totals.
func (h *MatchHandler) GetPlayerHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	player, err := h.ledger.GetPlayer(r.Context(), playerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
