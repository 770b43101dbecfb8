package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/stream"
)

// FragmentFunc receives each fragment of an answer as soon as it is produced.
// Returning an error abandons the stream.
type FragmentFunc func(exchangeID string, fragment stream.Fragment) error

// Ask sends a question to the chat API and consumes the streamed answer.
// The returned exchange is always finished; failures are recorded on it rather
// than returned. An error is only returned when the ask was never attempted.
func (s *Service) Ask(ctx context.Context, req domain.AskRequest, onFragment FragmentFunc) (*domain.Exchange, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	exchange := domain.NewExchange(uuid.New().String(), req, s.now())
	logger := s.logger.With().
		Str("exchange_id", exchange.ExchangeID).
		Str("thread_id", exchange.ThreadID).
		Logger()

	if err := s.store.CreateExchange(ctx, exchange); err != nil {
		logger.Warn().Err(err).Msg("failed to save exchange")
	}

	ctx, span := tracer.Start(ctx, "service.Ask", trace.WithAttributes(
		attribute.String("exchange.id", exchange.ExchangeID),
		attribute.String("thread.id", exchange.ThreadID),
	))
	defer span.End()

	s.consume(ctx, exchange, onFragment)

	span.SetAttributes(
		attribute.String("exchange.status", string(exchange.Status)),
		attribute.Int("exchange.fragments", exchange.FragmentCount),
	)
	if exchange.Status == domain.ExchangeStatusFailed {
		span.SetStatus(codes.Error, exchange.FailureMessage)
		logger.Warn().
			Str("failure_kind", string(exchange.FailureKind)).
			Str("failure_message", exchange.FailureMessage).
			Msg("exchange failed")
	} else {
		logger.Info().
			Str("status", string(exchange.Status)).
			Int("fragments", exchange.FragmentCount).
			Int("diagnostics", exchange.DiagnosticCount).
			Msg("exchange finished")
	}

	// The caller may already be gone; the outcome is still recorded.
	if err := s.store.UpdateExchange(context.WithoutCancel(ctx), exchange); err != nil {
		logger.Warn().Err(err).Msg("failed to update exchange")
	}
	return exchange, nil
}

func (s *Service) validate(ctx context.Context, req domain.AskRequest) error {
	if s.policyEngine == nil {
		return nil
	}
	reasons, err := s.policyEngine.Evaluate(ctx, map[string]any{
		"question":  req.Question,
		"thread_id": req.ThreadID,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate ask policy: %w", err)
	}
	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// consume drives the stream to its end and records the outcome on exchange.
func (s *Service) consume(ctx context.Context, exchange *domain.Exchange, onFragment FragmentFunc) {
	var st *stream.Stream
	defer func() {
		if r := recover(); r != nil {
			if st != nil {
				_ = st.Close()
			}
			s.logger.Error().
				Str("exchange_id", exchange.ExchangeID).
				Interface("panic", r).
				Msg("recovered while consuming stream")
			s.fail(exchange, fmt.Errorf("%v", r))
		}
	}()

	st, err := s.chatClient.Open(ctx, &chatapi.Request{
		Question: exchange.Question,
		ThreadID: exchange.ThreadID,
	})
	if err != nil {
		s.fail(exchange, err)
		return
	}
	defer st.Close()

	for st.Next() {
		fragment := st.Current()
		if fragment.Diagnostic {
			s.logger.Warn().
				Str("exchange_id", exchange.ExchangeID).
				Str("notice", fragment.Text).
				Msg("skipped malformed line")
		}
		if onFragment == nil {
			continue
		}
		if err := onFragment(exchange.ExchangeID, fragment); err != nil {
			_ = st.Close()
			s.fail(exchange, err)
			return
		}
	}

	if err := st.Err(); err != nil {
		s.fail(exchange, err)
		return
	}
	exchange.Complete(st.Accumulator(), s.now())
}

func (s *Service) fail(exchange *domain.Exchange, err error) {
	var te *chatapi.TransportError
	if !errors.As(err, &te) {
		te = &chatapi.TransportError{Kind: domain.FailureKindUnexpected, Err: err}
	}
	exchange.Fail(te.Kind, te.Error(), s.now())
}
