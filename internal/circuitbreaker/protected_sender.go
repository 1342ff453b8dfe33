package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/mail"
)

// ProtectedSender wraps a mail.Sender with a CircuitBreaker. While the
// transport is failing the dispatcher gets ErrCircuitOpen immediately and
// records the attempt as failed without waiting on timeouts.
type ProtectedSender struct {
	sender  mail.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with breaker protection.
func NewProtectedSender(sender mail.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a delivery through the breaker.
func (p *ProtectedSender) Send(ctx context.Context, msg mail.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("to", msg.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, msg)
	if err != nil {
		// A malformed message is the caller's fault, not a transport
		// outage. It must not push the breaker toward Open.
		if errors.Is(err, mail.ErrInvalidMessage) {
			return err
		}
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Name reports the underlying transport's name.
func (p *ProtectedSender) Name() string {
	return p.sender.Name()
}

// Breaker exposes the underlying breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
