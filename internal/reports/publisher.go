// Package reports hands finished session reports to downstream consumers.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, report *models.Report) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, report *models.Report) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

type NATSConfig struct {
	URL     string
	Subject string
	Name    string
	Timeout time.Duration
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS server", zap.String("url", cfg.URL), zap.String("subject", cfg.Subject))
	return NewNATSPublisherWithConn(conn, cfg.Subject, logger), nil
}

func NewNATSPublisherWithConn(conn *nats.Conn, subject string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// ReportEvent is the message published for every finished session
type ReportEvent struct {
	ReportID  string         `json:"report_id"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	CDR       models.CDR     `json:"cdr"`
	Report    *models.Report `json:"report"`
}

func (p *NATSPublisher) Publish(ctx context.Context, report *models.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ReportEvent{
		ReportID:  report.ID,
		UserID:    report.UserID,
		CreatedAt: report.CreatedAt,
		CDR:       report.Assessment.CDR,
		Report:    report,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return &models.UpstreamServiceError{Service: "nats", Err: err}
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
