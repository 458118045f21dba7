// Package chat is the request boundary: it resolves the session, applies
// the risk gate and hands safe messages to the orchestrator.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/pkg/expert"
	"github.com/kadirpekel/conclave/pkg/logger"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/orchestrator"
	"github.com/kadirpekel/conclave/pkg/riskgate"
	"github.com/kadirpekel/conclave/pkg/session"
)

// Chat outcomes recorded in metrics.
const (
	OutcomeAnswered  = "answered"
	OutcomeConfirm   = "confirm"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// ErrEmptyMessage is returned for a request without text.
var ErrEmptyMessage = errors.New("no message provided")

// Request is an incoming chat message.
type Request struct {
	Message     string              `json:"message"`
	PageContext *expert.PageContext `json:"pageContext,omitempty"`
	SessionID   string              `json:"session_id,omitempty"`
}

// Response is the reply to a chat message.
type Response struct {
	Success              bool                      `json:"success"`
	Response             string                    `json:"response"`
	SessionID            string                    `json:"session_id"`
	ExpertResults        []orchestrator.StepResult `json:"expert_results,omitempty"`
	OrchestratorCalls    []orchestrator.Step       `json:"orchestrator_calls,omitempty"`
	RequiresConfirmation bool                      `json:"requires_confirmation,omitempty"`
	Error                string                    `json:"error,omitempty"`
}

// Orchestrator answers messages that passed the gate.
type Orchestrator interface {
	Handle(ctx context.Context, sess *session.Session, message string, page *expert.PageContext) (*orchestrator.Result, error)
}

type Service struct {
	sessions session.Service
	gate     *riskgate.Gate
	orch     Orchestrator
	timeout  time.Duration
}

// New builds the chat service. timeout bounds each request; zero leaves it
// to the caller's context.
func New(sessions session.Service, gate *riskgate.Gate, orch Orchestrator, timeout time.Duration) *Service {
	return &Service{sessions: sessions, gate: gate, orch: orch, timeout: timeout}
}

// HandleChat answers one message. The returned response is always usable;
// the error is set as well when the request failed.
func (s *Service) HandleChat(ctx context.Context, req Request) (*Response, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sess, err := s.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return &Response{Response: "Unable to start a session.", Error: err.Error()}, err
	}

	ctx = logger.WithContext(ctx, "session_id", sess.ID(), "request_id", uuid.NewString())
	ctx, span := observability.Tracer("conclave/chat").Start(ctx, observability.SpanChat,
		trace.WithAttributes(attribute.String(observability.AttrSessionID, sess.ID())))

	start := time.Now()
	resp, outcome, err := s.handle(ctx, sess, req)
	resp.SessionID = sess.ID()

	observability.EndSpan(span, err)
	observability.GetGlobalMetrics().RecordChat(ctx, outcome, time.Since(start))
	return resp, err
}

func (s *Service) handle(ctx context.Context, sess *session.Session, req Request) (*Response, string, error) {
	log := logger.FromContext(ctx)

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return &Response{Response: "No message provided", Error: ErrEmptyMessage.Error()}, OutcomeError, ErrEmptyMessage
	}
	sess.AddTurn(session.RoleUser, message)

	page := req.PageContext
	for {
		d := s.gate.Check(sess, message, page)
		switch d.Action {
		case riskgate.Confirm:
			sess.AddTurn(session.RoleAssistant, d.Response)
			return &Response{Success: true, Response: d.Response, RequiresConfirmation: true}, OutcomeConfirm, nil
		case riskgate.Cancel:
			sess.AddTurn(session.RoleAssistant, d.Response)
			return &Response{Success: true, Response: d.Response}, OutcomeCancelled, nil
		case riskgate.Resubmit:
			log.Info("Resubmitting confirmed request")
			message = d.Message
			page, _ = d.Payload.(*expert.PageContext)
			continue
		}
		break
	}

	res, err := s.orch.Handle(ctx, sess, message, page)
	if err != nil {
		log.Warn("Chat request did not complete", "error", err)
		text := "The request failed."
		if errors.Is(err, context.DeadlineExceeded) {
			text = "The request timed out before an answer was ready."
		} else if errors.Is(err, context.Canceled) {
			text = "The request was cancelled."
		}
		return &Response{Response: text, Error: err.Error()}, OutcomeError, err
	}

	sess.AddTurn(session.RoleAssistant, res.Response)
	return &Response{
		Success:           true,
		Response:          res.Response,
		ExpertResults:     res.ExpertResults,
		OrchestratorCalls: res.Plan,
	}, OutcomeAnswered, nil
}
