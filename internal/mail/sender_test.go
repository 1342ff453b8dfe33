package mail

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func validMessage() Message {
	return Message{
		To:      "sam@example.com",
		Subject: "Expiry alert",
		HTML:    "<p>2 products need attention</p>",
	}
}

func TestLogSender_Send(t *testing.T) {
	sender := NewLogSender(zap.NewNop())

	if err := sender.Send(context.Background(), validMessage()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if sender.Name() != "log" {
		t.Errorf("name = %q, want log", sender.Name())
	}
}

func TestSend_RejectsIncompleteMessages(t *testing.T) {
	sender := NewLogSender(zap.NewNop())

	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"missing recipient", func(m *Message) { m.To = "" }},
		{"missing subject", func(m *Message) { m.Subject = "" }},
		{"missing body", func(m *Message) { m.HTML = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validMessage()
			tt.mutate(&msg)
			err := sender.Send(context.Background(), msg)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("err = %v, want ErrInvalidMessage", err)
			}
		})
	}
}
