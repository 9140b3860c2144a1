package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeFindMatch             = "find_match"
	TypeCancelMatchmaking     = "cancel_matchmaking"
	TypeCreateTournament      = "create_tournament"
	TypeJoinTournament        = "join_tournament"
	TypeLeaveTournament       = "leave_tournament"
	TypeStartTournament       = "start_tournament"
	TypePaddleMove            = "paddle_move"
	TypeBallUpdate            = "ball_update"
	TypeGameEnd               = "game_end"
	TypeTournamentMatchResult = "tournament_match_result"
	TypeGetTournamentDetails  = "get_tournament_details"
	TypeListTournaments       = "list_tournaments"
)

// Outbound message types.
const (
	TypeMatchFound                  = "match_found"
	TypeGameStart                   = "game_start"
	TypeWaitingForMatch             = "waiting_for_match"
	TypeMatchmakingCancelled        = "matchmaking_cancelled"
	TypeTournamentCreated           = "tournament_created"
	TypeTournamentJoined            = "tournament_joined"
	TypeTournamentLeft              = "tournament_left"
	TypeTournamentStarted           = "tournament_started"
	TypeTournamentPlayerJoined      = "tournament_player_joined"
	TypeTournamentPlayerLeft        = "tournament_player_left"
	TypeTournamentMatchNotification = "tournament_match_notification"
	TypeTournamentMatchCompleted    = "tournament_match_completed"
	TypeTournamentCompleted         = "tournament_completed"
	TypeTournamentDetails           = "tournament_details"
	TypeTournamentList              = "tournament_list"
	TypeOpponentPaddleMove          = "opponent_paddle_move"
	TypeScoreUpdate                 = "score_update"
	TypeMatchResult                 = "match_result"
	TypeError                       = "error"
)

// Error codes carried by error envelopes.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeForbidden  = "forbidden"
	CodeInternal   = "internal"
)

var (
	ErrInvalidEnvelope = errors.New("invalid message envelope")
	ErrInvalidPayload  = errors.New("invalid message payload")
	ErrUnknownType     = errors.New("unknown message type")
	ErrHandlerPanicked = errors.New("message handler failed")
)

// Envelope is one inbound frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundEnvelope is one outbound frame.
type OutboundEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Type echoes the inbound message type that failed, when known.
	Type string `json:"type,omitempty"`
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return env, nil
}

func encodeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return json.Marshal(OutboundEnvelope{Type: msgType, Payload: payload})
}
