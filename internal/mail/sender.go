// Package mail abstracts the outbound email transport. The dispatcher only
// sees the Sender interface; SES, Resend, and a development log sender
// implement it.
package mail

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Message is one rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// ErrInvalidMessage covers messages missing required fields; the transport
// was never attempted.
var ErrInvalidMessage = errors.New("invalid mail message")

// Sender delivers a rendered message through an external transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

func validate(msg Message) error {
	if msg.To == "" {
		return errors.Join(ErrInvalidMessage, errors.New("missing recipient"))
	}
	if msg.Subject == "" {
		return errors.Join(ErrInvalidMessage, errors.New("missing subject"))
	}
	if msg.HTML == "" {
		return errors.Join(ErrInvalidMessage, errors.New("missing body"))
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. Used in
// development and tests.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	s.logger.Info("email logged (development mode)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTML)),
	)
	return nil
}

func (s *LogSender) Name() string { return "log" }
