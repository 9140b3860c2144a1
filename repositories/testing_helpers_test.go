package repositories

import (
	"time"

	"github.com/Dosada05/pong-arena/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPlayer(id int) *models.Player {
	p := models.NewPlayer(id)
	p.CreatedAt = testNow
	return p
}

func newTestRegistration(tournamentID, playerID int) *models.TournamentParticipant {
	return &models.TournamentParticipant{TournamentID: tournamentID, PlayerID: playerID}
}
