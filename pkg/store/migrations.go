package store

import (
	"context"
	"fmt"
	"sort"
)

// Migration is one forward-only, numbered schema change. Up must be
// idempotent-safe to run against a fresh database only once; the
// revision table (schema_revision) guards against re-application.
type Migration struct {
	Revision int
	Name     string
	Up       string
}

// Migrate applies every migration whose Revision is greater than the
// store's current head, in ascending order, each inside its own
// transaction, and advances schema_revision.
func (s *Store) Migrate(ctx context.Context, migrations []Migration) error {
	if _, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_revision (
			revision INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("store: create schema_revision: %w", err)
	}

	head, err := s.currentRevision(ctx)
	if err != nil {
		return err
	}

	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Revision < sorted[j].Revision })

	for _, m := range sorted {
		if m.Revision <= head {
			continue
		}
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", m.Revision, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: apply migration %d (%s): %w", m.Revision, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_revision (revision, name) VALUES ($1, $2)", m.Revision, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", m.Revision, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.Revision, err)
		}
	}
	return nil
}

func (s *Store) currentRevision(ctx context.Context) (int, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT COALESCE(MAX(revision), 0) FROM schema_revision")
	var head int
	if err := row.Scan(&head); err != nil {
		return 0, fmt.Errorf("store: read schema_revision head: %w", err)
	}
	return head, nil
}

// Migrations is CrewLedger's complete forward-only migration set,
// covering every entity the data model names.
var Migrations = []Migration{
	{1, "users_and_credentials", migration001},
	{2, "clients", migration002},
	{3, "shifts_and_tasks", migration003},
	{4, "expenses", migration004},
	{5, "idempotency_keys", migration005},
	{6, "invoices", migration006},
	{7, "invoice_items_tokens_suggestions_versions", migration007},
	{8, "audit_log", migration008},
	{9, "refresh_tokens", migration009},
	{10, "bot_commands_and_menu_config", migration010},
	{11, "resource_idempotency_keys", migration011},
}

const migration001 = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	telegram_id BIGINT UNIQUE,
	role TEXT NOT NULL CHECK (role IN ('admin', 'foreman', 'worker')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
	daily_rate TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE auth_credentials (
	user_id INTEGER PRIMARY KEY REFERENCES users(id),
	password_hash TEXT,
	last_login TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration002 = `
CREATE TABLE clients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	contact TEXT,
	default_pricing_rule TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration003 = `
CREATE TABLE shifts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	client_id INTEGER REFERENCES clients(id),
	work_address TEXT,
	status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at TIMESTAMP
);
CREATE TABLE tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	shift_id INTEGER NOT NULL REFERENCES shifts(id),
	rate_code TEXT NOT NULL,
	qty TEXT NOT NULL,
	amount TEXT NOT NULL,
	worker TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected'))
);
`

const migration004 = `
CREATE TABLE expenses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	worker_id INTEGER NOT NULL REFERENCES users(id),
	shift_id INTEGER REFERENCES shifts(id),
	category TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT 'ILS',
	photo_ref TEXT,
	ocr_status TEXT NOT NULL DEFAULT 'off' CHECK (ocr_status IN ('off', 'abstain', 'ok')),
	status TEXT NOT NULL DEFAULT 'needs_approval' CHECK (status IN ('needs_approval', 'approved', 'rejected')),
	date DATE NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration005 = `
CREATE TABLE idempotency_keys (
	key TEXT PRIMARY KEY,
	scope_hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'applied',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration006 = `
CREATE TABLE invoices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id INTEGER NOT NULL REFERENCES clients(id),
	period_from DATE NOT NULL,
	period_to DATE NOT NULL,
	currency TEXT NOT NULL DEFAULT 'ILS',
	subtotal TEXT NOT NULL,
	tax TEXT NOT NULL DEFAULT '0',
	total TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'issued', 'paid', 'cancelled')),
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration007 = `
CREATE TABLE invoice_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_id INTEGER NOT NULL REFERENCES invoices(id),
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	quantity TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	amount TEXT NOT NULL,
	worker TEXT,
	site TEXT
);
CREATE TABLE invoice_preview_tokens (
	token TEXT PRIMARY KEY,
	invoice_id INTEGER NOT NULL REFERENCES invoices(id),
	issued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	used_at TIMESTAMP
);
CREATE TABLE suggestions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_id INTEGER NOT NULL REFERENCES invoices(id),
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'applied', 'rejected')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE invoice_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_id INTEGER NOT NULL REFERENCES invoices(id),
	version INTEGER NOT NULL,
	diff_json TEXT NOT NULL,
	sha TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration008 = `
CREATE TABLE audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	target_id INTEGER,
	payload_hash TEXT NOT NULL,
	outcome TEXT NOT NULL CHECK (outcome IN ('applied', 'rejected', 'noop')),
	reason TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_audit_target ON audit_entries(target_kind, target_id);
CREATE INDEX idx_audit_actor ON audit_entries(actor);
`

const migration009 = `
CREATE TABLE refresh_tokens (
	jti TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	expires_at TIMESTAMP NOT NULL,
	consumed_at TIMESTAMP
);
`

const migration010 = `
CREATE TABLE bot_commands (
	role TEXT NOT NULL,
	command_key TEXT NOT NULL,
	telegram_command TEXT NOT NULL,
	label TEXT NOT NULL,
	description TEXT,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	is_core BOOLEAN NOT NULL DEFAULT FALSE,
	position INTEGER NOT NULL DEFAULT 0,
	command_type TEXT NOT NULL DEFAULT 'standard',
	PRIMARY KEY (role, command_key)
);
CREATE TABLE bot_menu_config (
	role TEXT PRIMARY KEY,
	version INTEGER NOT NULL DEFAULT 1,
	last_updated_at TIMESTAMP,
	last_updated_by TEXT,
	last_applied_at TIMESTAMP,
	last_applied_by TEXT
);
`

// migration011 adds a nullable idempotency-key column to the two
// resource-add tables. Unlike bulk moderation, a replayed
// expense.add/task.add is defined to return the original created
// record rather than 409 (see DESIGN.md's idempotency open question),
// so the handler needs to look the row back up by key instead of only
// recording that the key was seen.
const migration011 = `
ALTER TABLE tasks ADD COLUMN idempotency_key TEXT;
ALTER TABLE expenses ADD COLUMN idempotency_key TEXT;
CREATE UNIQUE INDEX idx_tasks_idempotency_key ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE UNIQUE INDEX idx_expenses_idempotency_key ON expenses(idempotency_key) WHERE idempotency_key IS NOT NULL;
`
