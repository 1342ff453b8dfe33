package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultResendEndpoint = "https://api.resend.com/emails"

// ResendSender delivers email through the Resend HTTP API.
type ResendSender struct {
	client   *http.Client
	endpoint string
	apiKey   string
	from     string
	logger   *zap.Logger
}

type ResendConfig struct {
	APIKey   string
	From     string // e.g. "Expiro <reminders@example.com>"
	Endpoint string // override for tests; defaults to the Resend API
	Timeout  time.Duration
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func NewResendSender(cfg ResendConfig, logger *zap.Logger) *ResendSender {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultResendEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ResendSender{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		logger:   logger,
	}
}

// Send posts one HTML email to the Resend API.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	body, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("resend returned non-2xx status: %d, body: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info("email sent via resend",
		zap.String("to", msg.To),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (s *ResendSender) Name() string { return "resend" }
