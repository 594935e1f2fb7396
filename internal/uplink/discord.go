package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bit2swaz/chatrelay/internal/logger"
	"github.com/bit2swaz/chatrelay/internal/store"
)

// Command marks a message for forwarding.
const Command = "/uplink"

// Service relays flagged chat messages to a Discord webhook.
type Service struct {
	WebhookURL string
	// Self is the local sender name; our own messages are not forwarded.
	Self   func() string
	client *http.Client
	log    *slog.Logger
}

func NewService(url string, self func() string) *Service {
	return &Service{
		WebhookURL: url,
		Self:       self,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.For("uplink"),
	}
}

// Run forwards messages until msgs is closed or ctx is cancelled.
func (s *Service) Run(ctx context.Context, msgs <-chan store.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if !s.wants(msg) {
				continue
			}
			if err := s.post(ctx, msg); err != nil {
				s.log.Error("Failed to send uplink request", "error", err)
				continue
			}
			s.log.Info("Relayed message to webhook", "from", msg.Sender, "chatroom", msg.Chatroom)
		}
	}
}

func (s *Service) wants(msg store.Message) bool {
	if !strings.HasPrefix(msg.Text, Command) {
		return false
	}
	return s.Self == nil || msg.Sender != s.Self()
}

// Format renders the webhook text for msg.
func Format(msg store.Message) string {
	content := strings.TrimSpace(strings.TrimPrefix(msg.Text, Command))

	locationStr := "Unknown"
	if msg.Latitude != 0 || msg.Longitude != 0 {
		locationStr = fmt.Sprintf("%.4f, %.4f\n[Open in Maps](https://maps.google.com/?q=%f,%f)", msg.Latitude, msg.Longitude, msg.Latitude, msg.Longitude)
	}

	return fmt.Sprintf("📡 **[CHAT RELAY]** #%s\n**User:** %s\n**Message:** %s\n**Location:** %s",
		msg.Chatroom,
		msg.Sender,
		content,
		locationStr,
	)
}

func (s *Service) post(ctx context.Context, msg store.Message) error {
	jsonPayload, err := json.Marshal(map[string]string{"content": Format(msg)})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
