package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Dosada05/pong-arena/services"
)

// NotificationClient forwards tournament alerts to the notification service.
type NotificationClient struct {
	baseURL string
	client  *http.Client
}

func NewNotificationClient(baseURL string, timeout time.Duration) *NotificationClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &NotificationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type tournamentAlertRequest struct {
	PlayerID int `json:"player_id"`
	services.TournamentAlert
}

func (c *NotificationClient) SendTournamentAlert(ctx context.Context, playerID int, alert services.TournamentAlert) error {
	body, err := json.Marshal(tournamentAlertRequest{PlayerID: playerID, TournamentAlert: alert})
	if err != nil {
		return fmt.Errorf("failed to encode tournament alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications/tournament", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build tournament alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: notification service returned %d", ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}
