package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"bookhive/internal/notify"
)

// ChatGateway delivers notifications to the external chat layer over HTTP.
// It is the production implementation of notify.Transport.
type ChatGateway struct {
	baseURL string
	client  *http.Client
}

func NewChatGateway(baseURL string) *ChatGateway {
	return &ChatGateway{
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
}

// Send posts one message to the gateway. A 404 from the gateway means the
// recipient handle is unknown there, which is terminal; every other
// failure is retryable.
func (c *ChatGateway) Send(ctx context.Context, addr, text string, button *notify.Button) error {
	payload := struct {
		ChatID string         `json:"chat_id"`
		Text   string         `json:"text"`
		Button *notify.Button `json:"button,omitempty"`
	}{
		ChatID: addr,
		Text:   text,
		Button: button,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", notify.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return notify.ErrUnlinkedAccount
	default:
		return fmt.Errorf("%w: unexpected status code %d", notify.ErrTransport, resp.StatusCode)
	}
}
