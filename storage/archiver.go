package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gosimple/slug"

	"github.com/Dosada05/pong-arena/models"
)

// ObjectStore is the bucket the archiver writes to.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (StoredObject, error)
}

type StoredObject struct {
	Key  string
	URL  string
	ETag string
}

// ResultArchiver stores the final snapshot of a tournament as JSON under
// tournaments/{id}-{name-slug}/results.json.
type ResultArchiver struct {
	bucket ObjectStore
	logger *slog.Logger
}

func NewResultArchiver(bucket ObjectStore, logger *slog.Logger) *ResultArchiver {
	return &ResultArchiver{bucket: bucket, logger: logger}
}

func ResultKey(tournamentID int, name string) string {
	if s := slug.Make(name); s != "" {
		return fmt.Sprintf("tournaments/%d-%s/results.json", tournamentID, s)
	}
	return fmt.Sprintf("tournaments/%d/results.json", tournamentID)
}

func (a *ResultArchiver) ArchiveTournament(ctx context.Context, t *models.Tournament) (string, error) {
	if t == nil {
		return "", fmt.Errorf("nothing to archive")
	}
	body, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode tournament %d: %w", t.ID, err)
	}

	obj, err := a.bucket.Put(ctx, ResultKey(t.ID, t.Name), "application/json", body)
	if err != nil {
		return "", err
	}
	a.logger.Debug("tournament snapshot uploaded",
		slog.Int("tournament_id", t.ID), slog.String("key", obj.Key), slog.String("etag", obj.ETag))
	return obj.URL, nil
}
