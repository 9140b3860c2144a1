package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dosada05/pong-arena/relay"
	"github.com/Dosada05/pong-arena/repositories"
)

// Error classes. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("requested resource not found")
	ErrConflict    = errors.New("conflict with current state")
	ErrForbidden   = errors.New("operation not allowed for the current player")
	ErrPersistence = errors.New("persistence failure")
)

type classError struct {
	class error
	msg   string
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }

func newError(class error, msg string) error {
	return &classError{class: class, msg: msg}
}

var (
	ErrInvalidPlayerID          = newError(ErrValidation, "player id must be positive")
	ErrSamePlayer               = newError(ErrValidation, "a player cannot be matched against themselves")
	ErrInvalidMatchType         = newError(ErrValidation, "invalid match type")
	ErrInvalidGoals             = newError(ErrValidation, "goals must not be negative")
	ErrInvalidWinner            = newError(ErrValidation, "winner is not a participant of the match")
	ErrDrawNotAllowed           = newError(ErrValidation, "tournament matches cannot end in a draw")
	ErrNotTournamentMatch       = newError(ErrValidation, "match does not belong to a tournament")
	ErrTournamentReportRequired = newError(ErrValidation, "tournament matches must be reported through the tournament")
	ErrTournamentNameRequired   = newError(ErrValidation, "tournament name is required")
	ErrTournamentNameTooLong    = newError(ErrValidation, "tournament name must be at most 100 characters")
	ErrInvalidPlayerCount       = newError(ErrValidation, "tournament player count must be 4 or 8")
	ErrTournamentNotFull        = newError(ErrValidation, "tournament does not have enough players to start")
	ErrInvalidTournamentState   = newError(ErrValidation, "invalid tournament status")
	ErrInvalidSyncPayload       = newError(ErrValidation, "positions and velocities must be normalized")

	ErrPlayerNotFound      = newError(ErrNotFound, "player not found")
	ErrMatchNotFound       = newError(ErrNotFound, "match not found")
	ErrTournamentNotFound  = newError(ErrNotFound, "tournament not found")
	ErrParticipantNotFound = newError(ErrNotFound, "player is not registered for this tournament")
	ErrSessionNotFound     = newError(ErrNotFound, "match is not live")

	ErrAlreadyQueued            = newError(ErrConflict, "player is already queued")
	ErrPlayerInMatch            = newError(ErrConflict, "player already has a match in progress")
	ErrMatchAlreadyCompleted    = newError(ErrConflict, "match is already completed")
	ErrConcurrentUpdate         = newError(ErrConflict, "concurrent update, retry the request")
	ErrTournamentNotRegistering = newError(ErrConflict, "tournament is not open for registration")
	ErrTournamentNotInProgress  = newError(ErrConflict, "tournament is not in progress")
	ErrTournamentFull           = newError(ErrConflict, "tournament is full")
	ErrAlreadyRegistered        = newError(ErrConflict, "player is already registered for this tournament")

	ErrNotTournamentCreator = newError(ErrForbidden, "only the tournament creator can do this")
	ErrNotAuthoritative     = newError(ErrForbidden, "only the ball-authoritative player may send this message")
	ErrNotMatchParticipant  = newError(ErrForbidden, "player is not part of this match")
)

// mapRepositoryError translates repository and session errors into service
// errors. Errors that already carry a class are returned unchanged; anything
// unknown is a persistence failure.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrPersistence):
		return err
	case errors.Is(err, repositories.ErrPlayerNotFound), errors.Is(err, repositories.ErrTournamentInvalidCreator),
		errors.Is(err, repositories.ErrMatchPlayerInvalid):
		return ErrPlayerNotFound
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrParticipantNotFound):
		return ErrParticipantNotFound
	case errors.Is(err, repositories.ErrParticipantConflict):
		return ErrAlreadyRegistered
	case errors.Is(err, repositories.ErrSerializationFailure), errors.Is(err, repositories.ErrMatchSlotConflict),
		errors.Is(err, repositories.ErrMatchParticipantConflict), errors.Is(err, repositories.ErrTournamentStatusConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	case errors.Is(err, relay.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, relay.ErrSessionExists):
		return ErrPlayerInMatch
	case errors.Is(err, relay.ErrNotAuthoritative):
		return ErrNotAuthoritative
	case errors.Is(err, relay.ErrNotInSession):
		return ErrNotMatchParticipant
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// ErrorCode maps an error onto the code carried by websocket error envelopes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return relay.CodeValidation
	case errors.Is(err, ErrNotFound):
		return relay.CodeNotFound
	case errors.Is(err, ErrConflict):
		return relay.CodeConflict
	case errors.Is(err, ErrForbidden):
		return relay.CodeForbidden
	}
	return relay.CodeInternal
}
