package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BotCommand mirrors one row of the per-role Telegram command menu.
type BotCommand struct {
	Role            string
	CommandKey      string
	TelegramCommand string
	Label           string
	Description     string
	Enabled         bool
	IsCore          bool
	Position        int
	CommandType     string
}

// BotMenuConfig tracks a role's menu edit/apply lifecycle: Version
// bumps on every edit, guarding PATCH against a stale caller; the
// Applied* pair record the last time the edited menu was actually
// pushed to Telegram.
type BotMenuConfig struct {
	Role          string
	Version       int
	LastUpdatedAt *time.Time
	LastUpdatedBy string
	LastAppliedAt *time.Time
	LastAppliedBy string
}

// BotMenuRepo groups the bot_commands/bot_menu_config persistence the
// admin bot-menu endpoints need, bound to a single Execer per the rest
// of this package's per-request convention.
type BotMenuRepo struct {
	exec Execer
}

// NewBotMenuRepo builds a repo bound to exec.
func NewBotMenuRepo(exec Execer) *BotMenuRepo {
	return &BotMenuRepo{exec: exec}
}

// ListCommands returns every bot_commands row for a role, ordered by
// position.
func (r *BotMenuRepo) ListCommands(ctx context.Context, role string) ([]BotCommand, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: bot command listing requires a QueryContext-capable executor")
	}
	rows, err := queryable.QueryContext(ctx, `
		SELECT role, command_key, telegram_command, label, description, enabled, is_core, position, command_type
		FROM bot_commands WHERE role = $1 ORDER BY position ASC, command_key ASC`, role)
	if err != nil {
		return nil, fmt.Errorf("store: list bot commands: %w", err)
	}
	defer rows.Close()

	var out []BotCommand
	for rows.Next() {
		var c BotCommand
		var desc sql.NullString
		if err := rows.Scan(&c.Role, &c.CommandKey, &c.TelegramCommand, &c.Label, &desc, &c.Enabled, &c.IsCore, &c.Position, &c.CommandType); err != nil {
			return nil, err
		}
		c.Description = desc.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCommand inserts or replaces one command row for a role.
func (r *BotMenuRepo) UpsertCommand(ctx context.Context, c BotCommand) error {
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO bot_commands (role, command_key, telegram_command, label, description, enabled, is_core, position, command_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (role, command_key) DO UPDATE SET
			telegram_command = excluded.telegram_command,
			label = excluded.label,
			description = excluded.description,
			enabled = excluded.enabled,
			is_core = excluded.is_core,
			position = excluded.position,
			command_type = excluded.command_type`,
		c.Role, c.CommandKey, c.TelegramCommand, c.Label, nullableString(c.Description), c.Enabled, c.IsCore, c.Position, c.CommandType)
	if err != nil {
		return fmt.Errorf("store: upsert bot command: %w", err)
	}
	return nil
}

// GetMenuConfig fetches a role's menu config, creating the default
// version-1 row on first access so every role starts editable without
// a separate seed step.
func (r *BotMenuRepo) GetMenuConfig(ctx context.Context, role string) (BotMenuConfig, error) {
	row := r.exec.QueryRowContext(ctx, `
		SELECT role, version, last_updated_at, last_updated_by, last_applied_at, last_applied_by
		FROM bot_menu_config WHERE role = $1`, role)
	cfg, err := scanMenuConfig(row)
	if err == nil {
		return cfg, nil
	}
	if err != sql.ErrNoRows {
		return BotMenuConfig{}, fmt.Errorf("store: get bot menu config: %w", err)
	}

	if _, err := r.exec.ExecContext(ctx, "INSERT INTO bot_menu_config (role, version) VALUES ($1, 1)", role); err != nil {
		return BotMenuConfig{}, fmt.Errorf("store: seed bot menu config: %w", err)
	}
	return BotMenuConfig{Role: role, Version: 1}, nil
}

func scanMenuConfig(row interface{ Scan(...any) error }) (BotMenuConfig, error) {
	var cfg BotMenuConfig
	var updatedAt, appliedAt sql.NullTime
	var updatedBy, appliedBy sql.NullString
	if err := row.Scan(&cfg.Role, &cfg.Version, &updatedAt, &updatedBy, &appliedAt, &appliedBy); err != nil {
		return BotMenuConfig{}, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		cfg.LastUpdatedAt = &t
	}
	cfg.LastUpdatedBy = updatedBy.String
	if appliedAt.Valid {
		t := appliedAt.Time
		cfg.LastAppliedAt = &t
	}
	cfg.LastAppliedBy = appliedBy.String
	return cfg, nil
}

// UpdateMenuConfig bumps version and records the editor, failing with
// sql.ErrNoRows if expectedVersion no longer matches (optimistic
// locking against a concurrent edit).
func (r *BotMenuRepo) UpdateMenuConfig(ctx context.Context, role string, expectedVersion int, editor string, at time.Time) (BotMenuConfig, error) {
	res, err := r.exec.ExecContext(ctx, `
		UPDATE bot_menu_config SET version = version + 1, last_updated_at = $1, last_updated_by = $2
		WHERE role = $3 AND version = $4`, at, editor, role, expectedVersion)
	if err != nil {
		return BotMenuConfig{}, fmt.Errorf("store: update bot menu config: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return BotMenuConfig{}, err
	}
	if rows == 0 {
		return BotMenuConfig{}, sql.ErrNoRows
	}
	return r.GetMenuConfig(ctx, role)
}

// MarkApplied records that the currently edited menu was pushed to
// Telegram.
func (r *BotMenuRepo) MarkApplied(ctx context.Context, role, appliedBy string, at time.Time) (BotMenuConfig, error) {
	if _, err := r.exec.ExecContext(ctx, "UPDATE bot_menu_config SET last_applied_at = $1, last_applied_by = $2 WHERE role = $3", at, appliedBy, role); err != nil {
		return BotMenuConfig{}, fmt.Errorf("store: mark bot menu applied: %w", err)
	}
	return r.GetMenuConfig(ctx, role)
}
