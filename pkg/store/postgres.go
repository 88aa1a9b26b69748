package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadPostgresConfigFromEnv loads database configuration from environment
// variables.
func LoadPostgresConfigFromEnv() (PostgresConfig, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return PostgresConfig{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))

	return PostgresConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "parlo"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "parlo"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Postgres is the production Store on PostgreSQL via the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

// DB returns the underlying connection pool for health checks and direct
// queries.
func (p *Postgres) DB() *sql.DB { return p.db }

// NewPostgresFromDB wraps an existing connection pool (useful for tests).
// Migrations are assumed to have run.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// NewPostgres opens a pooled connection, verifies it and applies pending
// migrations.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Postgres{db: db}, nil
}

// LoadWorkspace implements Store.
func (p *Postgres) LoadWorkspace(ctx context.Context, workspaceID string) (*tenant.Workspace, error) {
	var document []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT document FROM workspaces WHERE workspace_id = $1`,
		workspaceID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	var ws tenant.Workspace
	if err := json.Unmarshal(document, &ws); err != nil {
		return nil, fmt.Errorf("decode workspace document: %w", err)
	}
	ws.WorkspaceID = workspaceID
	return &ws, nil
}

// SaveWorkspace implements Store.
func (p *Postgres) SaveWorkspace(ctx context.Context, ws *tenant.Workspace) error {
	document, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace document: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workspaces (workspace_id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (workspace_id) DO UPDATE
		SET document = EXCLUDED.document, updated_at = now()
	`, ws.WorkspaceID, document)
	if err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

// LoadConversation implements Store.
func (p *Postgres) LoadConversation(ctx context.Context, workspaceID, conversationID string) (*Conversation, error) {
	var (
		conv       Conversation
		stateBytes []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT conversation_id, workspace_id, channel, state, created_at, updated_at
		FROM conversations WHERE conversation_id = $1
	`, conversationID).Scan(
		&conv.ConversationID,
		&conv.WorkspaceID,
		&conv.Channel,
		&stateBytes,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if err := tenant.Guard(workspaceID, conv.WorkspaceID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stateBytes, &conv.State); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	return &conv, nil
}

// CommitTurn implements Store. The conversation row is locked for the
// duration of the transaction, serializing concurrent commits to the same
// conversation.
func (p *Postgres) CommitTurn(ctx context.Context, commit TurnCommit) error {
	nextState, err := json.Marshal(commit.NextState)
	if err != nil {
		return fmt.Errorf("encode next state: %w", err)
	}
	priorState, err := json.Marshal(commit.PriorState)
	if err != nil {
		return fmt.Errorf("encode prior state: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT workspace_id FROM conversations WHERE conversation_id = $1 FOR UPDATE`,
		commit.ConversationID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (conversation_id, workspace_id, channel, state)
			VALUES ($1, $2, $3, $4)
		`, commit.ConversationID, commit.WorkspaceID, commit.Channel, nextState)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock conversation: %w", err)
	default:
		if err := tenant.Guard(commit.WorkspaceID, owner); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET state = $2, updated_at = now()
			WHERE conversation_id = $1
		`, commit.ConversationID, nextState)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_history (workspace_id, conversation_id, turn_id, request_id, event, prior_state, next_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, commit.WorkspaceID, commit.ConversationID, commit.TurnID, commit.RequestID, commit.Event, priorState, nextState)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	for _, event := range commit.Outbox {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode outbox payload: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (workspace_id, conversation_id, turn_id, kind, payload)
			VALUES ($1, $2, $3, $4, $5)
		`, commit.WorkspaceID, commit.ConversationID, commit.TurnID, event.Kind, payload)
		if err != nil {
			return fmt.Errorf("append outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// History implements Store.
func (p *Postgres) History(ctx context.Context, workspaceID, conversationID string, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT id, workspace_id, conversation_id, turn_id, request_id, event, prior_state, next_state, created_at
		FROM state_history
		WHERE workspace_id = $1 AND conversation_id = $2
		ORDER BY id DESC`
	args := []any{workspaceID, conversationID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			entry HistoryEntry
			prior []byte
			next  []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.WorkspaceID,
			&entry.ConversationID,
			&entry.TurnID,
			&entry.RequestID,
			&entry.Event,
			&prior,
			&next,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if err := json.Unmarshal(prior, &entry.PriorState); err != nil {
			return nil, fmt.Errorf("decode prior state: %w", err)
		}
		if err := json.Unmarshal(next, &entry.NextState); err != nil {
			return nil, fmt.Errorf("decode next state: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecordActionExecution implements Store and the broker's ledger. Conflicts
// on (workspace_id, idempotency_key) are silently ignored, which is the
// at-least-once replay guarantee.
func (p *Postgres) RecordActionExecution(ctx context.Context, call models.ToolCall, obs models.Observation, expiresAt time.Time) error {
	result, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO action_executions (workspace_id, idempotency_key, tool, result, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, idempotency_key) DO NOTHING
	`, call.WorkspaceID, call.Fingerprint(), call.Tool, result, expiresAt)
	if err != nil {
		return fmt.Errorf("record action execution: %w", err)
	}
	return nil
}

// PendingOutbox implements Store.
func (p *Postgres) PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := `
		SELECT id, workspace_id, conversation_id, turn_id, kind, payload, created_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var (
			event   OutboxEvent
			payload []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.WorkspaceID,
			&event.ConversationID,
			&event.TurnID,
			&event.Kind,
			&payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode outbox payload: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// MarkOutboxDelivered implements Store.
func (p *Postgres) MarkOutboxDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE outbox SET delivered_at = now()
		WHERE id = ANY($1) AND delivered_at IS NULL
	`, ids)
	if err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	return nil
}

// PruneHistory implements Store.
func (p *Postgres) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM state_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// PruneOutbox implements Store.
func (p *Postgres) PruneOutbox(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE delivered_at IS NOT NULL AND delivered_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	return res.RowsAffected()
}

// PruneActionExecutions implements Store.
func (p *Postgres) PruneActionExecutions(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM action_executions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("prune action executions: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Store.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
