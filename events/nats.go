package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewNATSPublisher connects to url and makes sure the stream capturing all
// pong.> subjects exists.
func NewNATSPublisher(url, stream string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("pong-arena"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ConfigureStream(js, stream); err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSPublisher{nc: nc, js: js, logger: logger}, nil
}

func ConfigureStream(js nats.JetStreamContext, stream string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to add stream: %w", err)
	}
	return nil
}

func (p *NATSPublisher) PublishMatchCompleted(ctx context.Context, evt MatchCompleted) error {
	return p.publish(ctx, SubjectMatchCompleted, matchMsgID(evt), evt)
}

func (p *NATSPublisher) PublishTournamentCompleted(ctx context.Context, evt TournamentCompleted) error {
	return p.publish(ctx, SubjectTournamentCompleted, tournamentMsgID(evt), evt)
}

func (p *NATSPublisher) publish(ctx context.Context, subject, msgID string, evt interface{}) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if _, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("failed to publish %s to JetStream: %w", subject, err)
	}
	p.logger.Debug("event published", slog.String("subject", subject), slog.String("msg_id", msgID))
	return nil
}

func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("nats drain failed", slog.Any("error", err))
	}
}

// Message ids let JetStream drop duplicates when a publish is retried.
func matchMsgID(evt MatchCompleted) string {
	return fmt.Sprintf("match-%d-completed", evt.MatchID)
}

func tournamentMsgID(evt TournamentCompleted) string {
	return fmt.Sprintf("tournament-%d-completed", evt.TournamentID)
}
