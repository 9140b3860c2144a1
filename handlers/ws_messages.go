package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/presence"
	"github.com/Dosada05/pong-arena/relay"
	"github.com/Dosada05/pong-arena/services"
)

type tournamentRef struct {
	TournamentID int `json:"tournamentId"`
}

func (p *tournamentRef) Validate() error {
	if p.TournamentID <= 0 {
		return errors.New("tournamentId must be positive")
	}
	return nil
}

type createTournamentPayload struct {
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
}

type listTournamentsPayload struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (p *listTournamentsPayload) Validate() error {
	if p.Limit < 0 || p.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	return nil
}

type tournamentMatchResultPayload struct {
	MatchID      int  `json:"matchId"`
	WinnerID     *int `json:"winnerId"`
	GoalsPlayer1 int  `json:"goalsPlayer1"`
	GoalsPlayer2 int  `json:"goalsPlayer2"`
}

func (p *tournamentMatchResultPayload) Validate() error {
	if p.MatchID <= 0 {
		return errors.New("matchId must be positive")
	}
	if p.GoalsPlayer1 < 0 || p.GoalsPlayer2 < 0 {
		return errors.New("goals must not be negative")
	}
	return nil
}

type tournamentEnvelope struct {
	Tournament *models.Tournament `json:"tournament"`
}

type tournamentListEnvelope struct {
	Tournaments []models.Tournament `json:"tournaments"`
}

// MessageRouter binds inbound websocket message types to the game services.
type MessageRouter struct {
	hub         *relay.Hub
	matchmaking *services.MatchmakingService
	sync        *services.SyncService
	tournaments *services.TournamentService
	presence    *presence.Tracker
	logger      *slog.Logger
}

// NewMessageRouter registers every handler and connection hook on hub.
// tracker may be nil when presence is not configured.
func NewMessageRouter(
	hub *relay.Hub,
	mm *services.MatchmakingService,
	sync *services.SyncService,
	ts *services.TournamentService,
	tracker *presence.Tracker,
	logger *slog.Logger,
) *MessageRouter {
	r := &MessageRouter{
		hub:         hub,
		matchmaking: mm,
		sync:        sync,
		tournaments: ts,
		presence:    tracker,
		logger:      logger,
	}

	hub.SetErrorClassifier(classifyError)

	hub.RegisterMessageHandler(relay.TypeFindMatch, relay.Handle(r.findMatch))
	hub.RegisterMessageHandler(relay.TypeCancelMatchmaking, relay.Handle(r.cancelMatchmaking))
	hub.RegisterMessageHandler(relay.TypeCreateTournament, relay.Handle(r.createTournament))
	hub.RegisterMessageHandler(relay.TypeJoinTournament, relay.Handle(r.joinTournament))
	hub.RegisterMessageHandler(relay.TypeLeaveTournament, relay.Handle(r.leaveTournament))
	hub.RegisterMessageHandler(relay.TypeStartTournament, relay.Handle(r.startTournament))
	hub.RegisterMessageHandler(relay.TypePaddleMove, relay.Handle(r.paddleMove))
	hub.RegisterMessageHandler(relay.TypeBallUpdate, relay.Handle(r.ballUpdate))
	hub.RegisterMessageHandler(relay.TypeGameEnd, relay.Handle(r.gameEnd))
	hub.RegisterMessageHandler(relay.TypeTournamentMatchResult, relay.Handle(r.tournamentMatchResult))
	hub.RegisterMessageHandler(relay.TypeGetTournamentDetails, relay.Handle(r.tournamentDetails))
	hub.RegisterMessageHandler(relay.TypeListTournaments, relay.Handle(r.listTournaments))

	if tracker != nil {
		hub.OnConnect(tracker.HandleConnect)
	}
	hub.OnConnect(r.onConnect)
	hub.OnDisconnect(sync.HandleDisconnect)
	hub.OnDisconnect(mm.HandleDisconnect)
	if tracker != nil {
		hub.OnDisconnect(tracker.HandleDisconnect)
	}
	return r
}

func classifyError(err error) (string, string) {
	code := services.ErrorCode(err)
	if code == relay.CodeInternal {
		if errors.Is(err, services.ErrPersistence) {
			return code, "temporarily unable to process the request, retry later"
		}
		return code, "internal error"
	}
	return code, err.Error()
}

func (r *MessageRouter) onConnect(playerID int) {
	r.sync.ResumeFor(context.Background(), playerID)
}

func (r *MessageRouter) findMatch(ctx context.Context, c *relay.Client, _ struct{}) error {
	pairing, err := r.matchmaking.Enqueue(ctx, c.PlayerID)
	if err != nil {
		return err
	}
	if pairing != nil {
		// match_found already went to both players through MatchStarter.
		return nil
	}
	if waiting, ok := r.matchmaking.Waiting(c.PlayerID); ok {
		c.Send(relay.TypeWaitingForMatch, waiting)
	}
	return nil
}

func (r *MessageRouter) cancelMatchmaking(_ context.Context, c *relay.Client, _ struct{}) error {
	removed := r.matchmaking.Dequeue(c.PlayerID)
	c.Send(relay.TypeMatchmakingCancelled, map[string]bool{"removed": removed})
	return nil
}

func (r *MessageRouter) createTournament(ctx context.Context, c *relay.Client, p createTournamentPayload) error {
	t, err := r.tournaments.CreateTournament(ctx, c.PlayerID, services.CreateTournamentInput{
		Name:        p.Name,
		PlayerCount: p.PlayerCount,
	})
	if err != nil {
		return err
	}
	c.Send(relay.TypeTournamentCreated, tournamentEnvelope{Tournament: t})
	return nil
}

func (r *MessageRouter) joinTournament(ctx context.Context, c *relay.Client, p tournamentRef) error {
	t, err := r.tournaments.RegisterPlayer(ctx, p.TournamentID, c.PlayerID)
	if err != nil {
		return err
	}
	c.Send(relay.TypeTournamentJoined, tournamentEnvelope{Tournament: t})
	return nil
}

func (r *MessageRouter) leaveTournament(ctx context.Context, c *relay.Client, p tournamentRef) error {
	t, err := r.tournaments.RemovePlayer(ctx, p.TournamentID, c.PlayerID)
	if err != nil {
		return err
	}
	c.Send(relay.TypeTournamentLeft, tournamentEnvelope{Tournament: t})
	return nil
}

// startTournament has no direct reply when the creator plays: tournament_started
// goes to every participant.
func (r *MessageRouter) startTournament(ctx context.Context, c *relay.Client, p tournamentRef) error {
	t, err := r.tournaments.StartTournament(ctx, p.TournamentID, c.PlayerID)
	if err != nil {
		return err
	}
	if !isParticipant(t, c.PlayerID) {
		c.Send(relay.TypeTournamentStarted, tournamentEnvelope{Tournament: t})
	}
	return nil
}

func isParticipant(t *models.Tournament, playerID int) bool {
	for _, p := range t.Participants {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (r *MessageRouter) paddleMove(ctx context.Context, c *relay.Client, p services.PaddleMovePayload) error {
	return r.sync.PaddleMove(ctx, c.PlayerID, p)
}

func (r *MessageRouter) ballUpdate(ctx context.Context, c *relay.Client, p services.BallUpdatePayload) error {
	return r.sync.BallUpdate(ctx, c.PlayerID, p)
}

// gameEnd: SyncService sends match_result once the result is committed.
func (r *MessageRouter) gameEnd(ctx context.Context, c *relay.Client, p services.GameEndPayload) error {
	_, err := r.sync.GameEnd(ctx, c.PlayerID, p)
	return err
}

func (r *MessageRouter) tournamentMatchResult(ctx context.Context, c *relay.Client, p tournamentMatchResultPayload) error {
	_, err := r.tournaments.SubmitMatchResult(ctx, c.PlayerID, p.MatchID, p.WinnerID, p.GoalsPlayer1, p.GoalsPlayer2)
	return err
}

func (r *MessageRouter) tournamentDetails(ctx context.Context, c *relay.Client, p tournamentRef) error {
	t, err := r.tournaments.GetTournamentDetails(ctx, p.TournamentID)
	if err != nil {
		return err
	}
	c.Send(relay.TypeTournamentDetails, tournamentEnvelope{Tournament: t})
	return nil
}

func (r *MessageRouter) listTournaments(ctx context.Context, c *relay.Client, p listTournamentsPayload) error {
	filter := services.ListTournamentsFilter{Limit: p.Limit, Offset: p.Offset}
	if p.Status != "" {
		status := models.TournamentStatus(p.Status)
		filter.Status = &status
	}
	list, err := r.tournaments.ListTournaments(ctx, filter)
	if err != nil {
		return err
	}
	c.Send(relay.TypeTournamentList, tournamentListEnvelope{Tournaments: list})
	return nil
}
