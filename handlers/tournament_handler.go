package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/services"
)

type TournamentHandler struct {
	tournaments *services.TournamentService
}

func NewTournamentHandler(ts *services.TournamentService) *TournamentHandler {
	return &TournamentHandler{tournaments: ts}
}

type reportResultInput struct {
	WinnerID     *int `json:"winner_id"`
	GoalsPlayer1 int  `json:"goals_player1"`
	GoalsPlayer2 int  `json:"goals_player2"`
}

// CreateHandler handles POST /tournaments
func (h *TournamentHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := middleware.PlayerIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to create tournament")
		return
	}

	var input services.CreateTournamentInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournaments.CreateTournament(r.Context(), playerID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetByIDHandler handles GET /tournaments/{tournamentID}
func (h *TournamentHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournaments.GetTournamentDetails(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListHandler handles GET /tournaments
func (h *TournamentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	var filter services.ListTournamentsFilter
	query := r.URL.Query()

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		filter.Status = &status
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			badRequestResponse(w, r, errors.New("invalid limit query parameter"))
			return
		}
		filter.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			badRequestResponse(w, r, errors.New("invalid offset query parameter"))
			return
		}
		filter.Offset = offset
	}

	tournaments, err := h.tournaments.ListTournaments(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournaments": tournaments}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// RegisterHandler handles POST /tournaments/{tournamentID}/register
func (h *TournamentHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	h.withTournament(w, r, h.tournaments.RegisterPlayer)
}

// UnregisterHandler handles DELETE /tournaments/{tournamentID}/register
func (h *TournamentHandler) UnregisterHandler(w http.ResponseWriter, r *http.Request) {
	h.withTournament(w, r, h.tournaments.RemovePlayer)
}

// StartHandler handles POST /tournaments/{tournamentID}/start
func (h *TournamentHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	h.withTournament(w, r, h.tournaments.StartTournament)
}

type tournamentAction func(ctx context.Context, tournamentID, playerID int) (*models.Tournament, error)

func (h *TournamentHandler) withTournament(w http.ResponseWriter, r *http.Request, action tournamentAction) {
	playerID, err := middleware.PlayerIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := action(r.Context(), id, playerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ReportResultHandler handles POST /tournaments/matches/{matchID}/result
func (h *TournamentHandler) ReportResultHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := middleware.PlayerIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input reportResultInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	report, err := h.tournaments.SubmitMatchResult(r.Context(), playerID, matchID, input.WinnerID, input.GoalsPlayer1, input.GoalsPlayer2)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"result": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
