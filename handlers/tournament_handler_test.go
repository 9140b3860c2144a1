package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/pong-arena/models"
)

func decodeTournament(t *testing.T, resp *http.Response) models.Tournament {
	t.Helper()
	var body struct {
		Tournament models.Tournament `json:"tournament"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Tournament
}

func createTournament(t *testing.T, app *testApp, creatorID, size int) models.Tournament {
	t.Helper()
	resp := app.do(t, http.MethodPost, "/tournaments", creatorID,
		fmt.Sprintf(`{"name":"Friday Cup","player_count":%d}`, size))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeTournament(t, resp)
}

func TestTournamentHandler_CreateRequiresAuthentication(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/tournaments", 0, `{"name":"Cup","player_count":4}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTournamentHandler_CreateValidation(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/tournaments", 1, `{"name":"Cup","player_count":6}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodPost, "/tournaments", 1, `{"name":"Cup","player_count":4,"prize":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	created := createTournament(t, app, 1, 4)
	assert.Equal(t, models.TournamentRegistering, created.Status)
	assert.Equal(t, 1, created.CreatorID)
	assert.Equal(t, 4, created.PlayerCount)
}

func TestTournamentHandler_RegistrationLifecycle(t *testing.T) {
	app := newTestApp(t)
	tour := createTournament(t, app, 1, 4)
	base := "/tournaments/" + strconv.Itoa(tour.ID)

	for pid := 1; pid <= 4; pid++ {
		resp := app.do(t, http.MethodPost, base+"/register", pid, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, "player %d", pid)
	}

	resp := app.do(t, http.MethodPost, base+"/register", 5, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = app.do(t, http.MethodPost, base+"/register", 2, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = app.do(t, http.MethodDelete, base+"/register", 4, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeTournament(t, resp).Participants, 3)

	resp = app.do(t, http.MethodPost, base+"/start", 1, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodPost, base+"/register", 4, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = app.do(t, http.MethodPost, base+"/start", 2, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = app.do(t, http.MethodPost, base+"/start", 1, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.TournamentInProgress, decodeTournament(t, resp).Status)

	resp = app.do(t, http.MethodDelete, base+"/register", 3, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTournamentHandler_GetAndList(t *testing.T) {
	app := newTestApp(t)
	tour := createTournament(t, app, 1, 4)

	resp := app.do(t, http.MethodGet, "/tournaments/"+strconv.Itoa(tour.ID), 0, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, tour.ID, decodeTournament(t, resp).ID)

	resp = app.do(t, http.MethodGet, "/tournaments/9999", 0, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = app.do(t, http.MethodGet, "/tournaments/abc", 0, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodGet, "/tournaments/?status=registering&limit=5", 0, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Tournaments []models.Tournament `json:"tournaments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Tournaments, 1)
	assert.Equal(t, tour.ID, list.Tournaments[0].ID)

	resp = app.do(t, http.MethodGet, "/tournaments/?status=paused", 0, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodGet, "/tournaments/?limit=-1", 0, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTournamentHandler_ReportResultAdvancesBracket(t *testing.T) {
	app := newTestApp(t)
	tour := createTournament(t, app, 1, 4)
	base := "/tournaments/" + strconv.Itoa(tour.ID)
	for pid := 1; pid <= 4; pid++ {
		require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/register", pid, "").StatusCode)
	}
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/start", 1, "").StatusCode)

	details := decodeTournament(t, app.do(t, http.MethodGet, base, 0, ""))
	require.Len(t, details.Matches, 2)
	semi := details.Matches[0]
	resultPath := "/tournaments/matches/" + strconv.Itoa(semi.ID) + "/result"

	// seed 1 plays seed 4; player 2 is not in this match and did not create the tournament
	resp := app.do(t, http.MethodPost, resultPath, 2, `{"winner_id":1,"goals_player1":5,"goals_player2":2}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = app.do(t, http.MethodPost, resultPath, 4, `{"winner_id":null,"goals_player1":3,"goals_player2":3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodPost, resultPath, 4, `{"winner_id":1,"goals_player1":5,"goals_player2":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = app.do(t, http.MethodPost, resultPath, 4, `{"winner_id":1,"goals_player1":5,"goals_player2":2}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	details = decodeTournament(t, app.do(t, http.MethodGet, base, 0, ""))
	for _, p := range details.Participants {
		if p.PlayerID == 4 {
			require.NotNil(t, p.Placement)
			assert.Equal(t, 3, *p.Placement)
		}
	}
}
