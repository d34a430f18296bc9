package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type DatabaseConfig struct {
	Driver      string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	Path        string
	UseInMemory bool
}

// DSN returns the database/sql driver name and data source for the config
func (c DatabaseConfig) DSN() (string, string, error) {
	switch c.Driver {
	case DriverPostgres, "":
		return DriverPostgres, fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode), nil
	case DriverSQLite:
		if c.Path == "" {
			return "", "", fmt.Errorf("sqlite driver requires a database path")
		}
		return DriverSQLite, c.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// SQLStorage implements Storage on PostgreSQL or SQLite
type SQLStorage struct {
	db     *sqlx.DB
	now    func() time.Time
	logger *zap.Logger
}

func NewSQLStorage(config DatabaseConfig, logger *zap.Logger, opts ...Option) (*SQLStorage, error) {
	driverName, dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}
	return OpenSQL(driverName, dsn, logger, opts...)
}

// OpenSQL connects, pings and migrates the database
func OpenSQL(driverName, dsn string, logger *zap.Logger, opts ...Option) (*SQLStorage, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if driverName == DriverSQLite {
		// SQLite allows a single writer; an in-memory database also lives on one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if driverName == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("error configuring sqlite: %w", err)
		}
	}

	o := buildOptions(opts)
	storage := &SQLStorage{db: db, now: o.now, logger: logger}

	if err := storage.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Database ready", zap.String("driver", driverName))
	return storage, nil
}

// Migrate applies the embedded schema. Safe to call repeatedly.
func (s *SQLStorage) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQL(migrations) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

func splitSQL(schema string) []string {
	var lines []string
	for _, line := range strings.Split(schema, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

type messageRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	Timestamp int64  `db:"timestamp"`
}

func (r messageRow) model() models.Message {
	return models.Message{
		ID:        r.ID,
		UserID:    r.UserID,
		Role:      models.Role(r.Role),
		Content:   r.Content,
		Timestamp: time.UnixMilli(r.Timestamp),
	}
}

type photoSessionRow struct {
	ID            string `db:"id"`
	UserID        string `db:"user_id"`
	ImageAnalysis string `db:"image_analysis"`
	IsActive      bool   `db:"is_active"`
	StartTime     int64  `db:"start_time"`
}

type topicRow struct {
	UserID        string        `db:"user_id"`
	TopicKeywords string        `db:"topic_keywords"`
	SuccessCount  int           `db:"success_count"`
	TotalCount    int           `db:"total_count"`
	SuccessRate   float64       `db:"success_rate"`
	LastSuccessAt sql.NullInt64 `db:"last_success_at"`
}

func (r topicRow) model() (models.EffectiveTopic, error) {
	topic := models.EffectiveTopic{
		UserID:       r.UserID,
		SuccessCount: r.SuccessCount,
		TotalCount:   r.TotalCount,
		SuccessRate:  r.SuccessRate,
	}
	if err := json.Unmarshal([]byte(r.TopicKeywords), &topic.Keywords); err != nil {
		return topic, fmt.Errorf("decode topic keywords: %w", err)
	}
	if r.LastSuccessAt.Valid {
		at := time.UnixMilli(r.LastSuccessAt.Int64)
		topic.LastSuccessAt = &at
	}
	return topic, nil
}

type traumaRow struct {
	UserID              string `db:"user_id"`
	TraumaKeywords      string `db:"trauma_keywords"`
	DetailedDescription string `db:"detailed_description"`
	UpdatedAt           int64  `db:"updated_at"`
}

type reportRow struct {
	ID           string `db:"id"`
	UserID       string `db:"user_id"`
	CreatedAt    int64  `db:"created_at"`
	CDRLabel     string `db:"cdr_label"`
	MessageCount int    `db:"message_count"`
	Payload      string `db:"payload"`
}

type reportPayload struct {
	Assessment models.Assessment `json:"assessment"`
	Summary    string            `json:"summary"`
}

func (r reportRow) model() (models.Report, error) {
	var payload reportPayload
	if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
		return models.Report{}, fmt.Errorf("decode report payload: %w", err)
	}
	return models.Report{
		ID:           r.ID,
		UserID:       r.UserID,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		MessageCount: r.MessageCount,
		Assessment:   payload.Assessment,
		Summary:      payload.Summary,
	}, nil
}

// Conversation methods
func (s *SQLStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Timestamp = truncateMillis(msg.Timestamp)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("append message", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversation_messages (id, user_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.UserID, string(msg.Role), msg.Content, msg.Timestamp.UnixMilli())
	if err != nil {
		return wrapErr("append message", err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (user_id, last_interaction_at) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_interaction_at = excluded.last_interaction_at`),
		msg.UserID, s.now().UnixMilli())
	if err != nil {
		return wrapErr("touch user", err)
	}

	return wrapErr("append message", tx.Commit())
}

func (s *SQLStorage) RecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if _, err := s.CleanupStale(ctx, userID); err != nil {
		return nil, err
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, user_id, role, content, timestamp
		FROM conversation_messages
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`), userID, limit)
	if err != nil {
		return nil, wrapErr("query recent messages", err)
	}

	messages := make([]models.Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = row.model()
	}
	return messages, nil
}

func (s *SQLStorage) AllMessages(ctx context.Context, userID string) ([]models.Message, error) {
	if _, err := s.CleanupStale(ctx, userID); err != nil {
		return nil, err
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, user_id, role, content, timestamp
		FROM conversation_messages
		WHERE user_id = ?
		ORDER BY timestamp ASC`), userID)
	if err != nil {
		return nil, wrapErr("query messages", err)
	}

	messages := make([]models.Message, len(rows))
	for i, row := range rows {
		messages[i] = row.model()
	}
	return messages, nil
}

func (s *SQLStorage) CleanupStale(ctx context.Context, userID string) (int64, error) {
	cutoff := s.now().Add(-MessageTTL).UnixMilli()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM conversation_messages WHERE user_id = ? AND timestamp < ?`), userID, cutoff)
	if err != nil {
		return 0, wrapErr("cleanup stale messages", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("cleanup stale messages", err)
	}
	if removed > 0 {
		s.logger.Debug("Evicted stale messages",
			zap.String("user_id", userID),
			zap.Int64("removed", removed))
	}
	return removed, nil
}

func (s *SQLStorage) LastInteraction(ctx context.Context, userID string) (time.Time, error) {
	var ms int64
	err := s.db.GetContext(ctx, &ms, s.db.Rebind(`
		SELECT last_interaction_at FROM users WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, &models.NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return time.Time{}, wrapErr("query user", err)
	}
	return time.UnixMilli(ms), nil
}

// Photo session methods
func (s *SQLStorage) UpsertPhotoSession(ctx context.Context, userID, imageAnalysis string, startTime time.Time) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", wrapErr("upsert photo session", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE photo_sessions SET is_active = ? WHERE user_id = ? AND is_active = ?`),
		false, userID, true)
	if err != nil {
		return "", wrapErr("deactivate photo sessions", err)
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO photo_sessions (id, user_id, image_analysis, is_active, start_time)
		VALUES (?, ?, ?, ?, ?)`),
		id, userID, imageAnalysis, true, startTime.UnixMilli())
	if err != nil {
		return "", wrapErr("insert photo session", err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrapErr("upsert photo session", err)
	}
	return id, nil
}

func (s *SQLStorage) ActivePhotoSession(ctx context.Context, userID string) (*models.PhotoSession, error) {
	var row photoSessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, user_id, image_analysis, is_active, start_time
		FROM photo_sessions
		WHERE user_id = ? AND is_active = ?
		ORDER BY start_time DESC
		LIMIT 1`), userID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("query active photo session", err)
	}

	startTime := time.UnixMilli(row.StartTime)
	if s.now().Sub(startTime) > PhotoSessionTTL {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE photo_sessions SET is_active = ? WHERE id = ?`), false, row.ID)
		if err != nil {
			return nil, wrapErr("expire photo session", err)
		}
		return nil, nil
	}

	return &models.PhotoSession{
		ID:            row.ID,
		UserID:        row.UserID,
		ImageAnalysis: row.ImageAnalysis,
		IsActive:      row.IsActive,
		StartTime:     startTime,
	}, nil
}

func (s *SQLStorage) DeactivatePhotoSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE photo_sessions SET is_active = ? WHERE user_id = ? AND is_active = ?`),
		false, userID, true)
	return wrapErr("deactivate photo sessions", err)
}

// Topic methods
func (s *SQLStorage) GetTopic(ctx context.Context, userID string, keywords []string) (*models.EffectiveTopic, error) {
	var row topicRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT user_id, topic_keywords, success_count, total_count, success_rate, last_success_at
		FROM effective_topics
		WHERE user_id = ? AND topic_keywords = ?`), userID, topicKey(keywords))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("query topic", err)
	}

	topic, err := row.model()
	if err != nil {
		return nil, wrapErr("query topic", err)
	}
	return &topic, nil
}

func (s *SQLStorage) SaveTopic(ctx context.Context, topic *models.EffectiveTopic) error {
	var lastSuccess sql.NullInt64
	if topic.LastSuccessAt != nil {
		lastSuccess = sql.NullInt64{Int64: topic.LastSuccessAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO effective_topics
			(user_id, topic_keywords, success_count, total_count, success_rate, last_success_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, topic_keywords) DO UPDATE SET
			success_count = excluded.success_count,
			total_count = excluded.total_count,
			success_rate = excluded.success_rate,
			last_success_at = excluded.last_success_at`),
		topic.UserID, topicKey(topic.Keywords), topic.SuccessCount, topic.TotalCount,
		topic.SuccessRate, lastSuccess)
	return wrapErr("save topic", err)
}

func (s *SQLStorage) ListTopics(ctx context.Context, userID string, minTotal int) ([]models.EffectiveTopic, error) {
	var rows []topicRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT user_id, topic_keywords, success_count, total_count, success_rate, last_success_at
		FROM effective_topics
		WHERE user_id = ? AND total_count >= ?`), userID, minTotal)
	if err != nil {
		return nil, wrapErr("list topics", err)
	}

	topics := make([]models.EffectiveTopic, 0, len(rows))
	for _, row := range rows {
		topic, err := row.model()
		if err != nil {
			return nil, wrapErr("list topics", err)
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

// Trauma methods
func (s *SQLStorage) SaveTrauma(ctx context.Context, info *models.TraumaInfo) error {
	keywords := info.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return wrapErr("save trauma info", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO trauma_info (user_id, trauma_keywords, detailed_description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			trauma_keywords = excluded.trauma_keywords,
			detailed_description = excluded.detailed_description,
			updated_at = excluded.updated_at`),
		info.UserID, string(data), info.Description, info.UpdatedAt.UnixMilli())
	return wrapErr("save trauma info", err)
}

func (s *SQLStorage) GetTrauma(ctx context.Context, userID string) (*models.TraumaInfo, error) {
	var row traumaRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT user_id, trauma_keywords, detailed_description, updated_at
		FROM trauma_info WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "trauma info", ID: userID}
	}
	if err != nil {
		return nil, wrapErr("query trauma info", err)
	}

	info := &models.TraumaInfo{
		UserID:      row.UserID,
		Description: row.DetailedDescription,
		UpdatedAt:   time.UnixMilli(row.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(row.TraumaKeywords), &info.Keywords); err != nil {
		return nil, wrapErr("decode trauma keywords", err)
	}
	return info, nil
}

func (s *SQLStorage) DeleteTrauma(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM trauma_info WHERE user_id = ?`), userID)
	return wrapErr("delete trauma info", err)
}

// Report methods
func (s *SQLStorage) SaveReport(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	payload, err := json.Marshal(reportPayload{Assessment: report.Assessment, Summary: report.Summary})
	if err != nil {
		return wrapErr("save report", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO reports (id, user_id, created_at, cdr_label, message_count, payload)
		VALUES (?, ?, ?, ?, ?, ?)`),
		report.ID, report.UserID, report.CreatedAt.UnixMilli(), string(report.Assessment.CDR),
		report.MessageCount, string(payload))
	return wrapErr("save report", err)
}

func (s *SQLStorage) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, user_id, created_at, cdr_label, message_count, payload
		FROM reports WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "report", ID: id}
	}
	if err != nil {
		return nil, wrapErr("query report", err)
	}

	report, err := row.model()
	if err != nil {
		return nil, wrapErr("query report", err)
	}
	return &report, nil
}

func (s *SQLStorage) ListReports(ctx context.Context, userID string, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, user_id, created_at, cdr_label, message_count, payload
		FROM reports
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`), userID, limit)
	if err != nil {
		return nil, wrapErr("list reports", err)
	}

	reports := make([]models.Report, 0, len(rows))
	for _, row := range rows {
		report, err := row.model()
		if err != nil {
			return nil, wrapErr("list reports", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
