package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/infrastructure/resilience"
)

const DefaultSubject = "documents.routed"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher emits one JSON event per finished routing decision.
type Publisher struct {
	conn     Conn
	closer   func()
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

// OutcomeEvent is the payload published on the outcome subject.
type OutcomeEvent struct {
	DocumentID       string                  `json:"document_id"`
	Status           domain.DocumentStatus   `json:"status"`
	Stage            domain.Stage            `json:"stage"`
	Source           domain.DocumentSource   `json:"source"`
	OriginalFilename string                  `json:"original_filename"`
	TemplateID       string                  `json:"template_id,omitempty"`
	TemplateName     string                  `json:"template_name,omitempty"`
	ExtractionMethod domain.ExtractionMethod `json:"extraction_method,omitempty"`
	Destination      string                  `json:"destination,omitempty"`
	FailureKind      domain.FailureKind      `json:"failure_kind,omitempty"`
	FailureReason    string                  `json:"failure_reason,omitempty"`
	Fields           map[string]string       `json:"fields,omitempty"`
	OccurredAt       time.Time               `json:"occurred_at"`
}

func NewPublisher(url, subject string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("papertrellis"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Warn("nats async error", "error", err)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	p := NewPublisherWithConn(conn, subject, options.ResilienceExecutor, logger)
	p.closer = func() {
		if err := conn.FlushTimeout(5 * time.Second); err != nil {
			logger.Warn("nats flush on close failed", "error", err)
		}
		conn.Close()
	}
	return p, nil
}

// NewPublisherWithConn wraps an existing connection. executor may be nil.
func NewPublisherWithConn(conn Conn, subject string, executor *resilience.Executor, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: executor,
		logger:   logger,
	}
}

func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

func (p *Publisher) PublishOutcome(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return nil
	}
	payload, err := json.Marshal(newOutcomeEvent(doc))
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.Temporary("nats publish", err, classifyPublishError)
	}
	p.logger.Debug("outcome published", "subject", p.subject, "document_id", doc.ID, "status", doc.Status)
	return nil
}

func newOutcomeEvent(doc *domain.Document) OutcomeEvent {
	occurred := doc.UpdatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return OutcomeEvent{
		DocumentID:       doc.ID,
		Status:           doc.Status,
		Stage:            doc.Stage,
		Source:           doc.Source,
		OriginalFilename: doc.OriginalFilename,
		TemplateID:       doc.MatchedTemplateID,
		TemplateName:     doc.MatchedTemplateName,
		ExtractionMethod: doc.ExtractionMethod,
		Destination:      doc.DestinationPath,
		FailureKind:      doc.FailureKind,
		FailureReason:    doc.FailureReason,
		Fields:           doc.Fields,
		OccurredAt:       occurred,
	}
}
