// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite backend implementation for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ backend.TemplateStore  = (*Backend)(nil)
	_ backend.TemplateLister = (*Backend)(nil)
	_ backend.IdentityStore  = (*Backend)(nil)
	_ backend.InstanceStore  = (*Backend)(nil)
	_ backend.Backend        = (*Backend)(nil)
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite backend.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

// configurePragmas sets SQLite configuration options.
func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs database migrations.
func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			definition TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_status ON templates(status)`,
		`CREATE TABLE IF NOT EXISTS identities (
			username TEXT PRIMARY KEY,
			roles TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			template_name TEXT NOT NULL,
			current_step_id TEXT,
			current_step_name TEXT,
			assignee TEXT NOT NULL,
			initiated_by TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT,
			version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_assignee ON instances(assignee, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS form_entries (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step_id TEXT,
			submitted_by TEXT NOT NULL,
			payload TEXT NOT NULL,
			submitted_at TEXT NOT NULL,
			PRIMARY KEY (instance_id, seq),
			FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

type definition struct {
	Steps []workflow.Step `json:"steps"`
	Rules []workflow.Rule `json:"rules,omitempty"`
}

// PutTemplate creates or replaces a template.
func (b *Backend) PutTemplate(ctx context.Context, t *workflow.Template) error {
	c := t.Clone()
	c.Normalize()

	def, err := json.Marshal(definition{Steps: c.Steps, Rules: c.Rules})
	if err != nil {
		return fmt.Errorf("failed to marshal template definition: %w", err)
	}

	now := formatTime(time.Now())
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, description, status, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, c.Description, string(c.Status), string(def), now, now)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (b *Backend) GetTemplate(ctx context.Context, id string) (*workflow.Template, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, definition, created_at, updated_at
		FROM templates WHERE id = ?
	`, id)

	t, err := scanTemplate(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "template", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// ListTemplates lists templates, optionally filtered by status.
func (b *Backend) ListTemplates(ctx context.Context, status workflow.TemplateStatus) ([]*workflow.Template, error) {
	query := `SELECT id, name, description, status, definition, created_at, updated_at FROM templates`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	result := []*workflow.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (*workflow.Template, error) {
	var (
		t                    workflow.Template
		description          sql.NullString
		status, def          string
		createdAt, updatedAt string
	)
	if err := s.Scan(&t.ID, &t.Name, &description, &status, &def, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var d definition
	if err := json.Unmarshal([]byte(def), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template definition: %w", err)
	}
	t.Description = description.String
	t.Status = workflow.TemplateStatus(status)
	t.Steps = d.Steps
	t.Rules = d.Rules
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

// PutIdentity creates or replaces an identity.
func (b *Backend) PutIdentity(ctx context.Context, id *workflow.Identity) error {
	roles, err := json.Marshal(id.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO identities (username, roles) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET roles = excluded.roles
	`, id.Username, string(roles))
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// GetIdentity retrieves an identity by username.
func (b *Backend) GetIdentity(ctx context.Context, username string) (*workflow.Identity, error) {
	var roles string
	err := b.db.QueryRowContext(ctx, `SELECT roles FROM identities WHERE username = ?`, username).Scan(&roles)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "identity", ID: username}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	id := &workflow.Identity{Username: username}
	if err := json.Unmarshal([]byte(roles), &id.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	return id, nil
}

// CreateInstance stores a new instance and its form log.
func (b *Backend) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instances (
			id, template_id, template_name, current_step_id, current_step_name,
			assignee, initiated_by, status, created_at, completed_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		inst.ID, inst.TemplateID, inst.TemplateName, inst.CurrentStepID, inst.CurrentStepName,
		inst.Assignee, inst.InitiatedBy, string(inst.Status), formatTime(inst.CreatedAt), formatTimePtr(inst.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	if err := insertEntries(ctx, tx, inst.ID, inst.FormData); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instance: %w", err)
	}

	inst.Version = 1
	return nil
}

// GetInstance retrieves an instance by ID.
func (b *Backend) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, template_id, template_name, current_step_id, current_step_name,
			assignee, initiated_by, status, created_at, completed_at, version
		FROM instances WHERE id = ?
	`, id)

	inst, err := scanInstance(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "instance", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	if inst.FormData, err = b.loadFormLog(ctx, id); err != nil {
		return nil, err
	}
	return inst, nil
}

// UpdateInstance writes inst if its version is current.
func (b *Backend) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE instances
		SET current_step_id = ?, current_step_name = ?, assignee = ?, status = ?,
			completed_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		inst.CurrentStepID, inst.CurrentStepName, inst.Assignee, string(inst.Status),
		formatTimePtr(inst.CompletedAt), inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = ?`, inst.ID).Scan(&exists)
		if stderrors.Is(err, sql.ErrNoRows) {
			return &errors.NotFoundError{Resource: "instance", ID: inst.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to check instance: %w", err)
		}
		return &errors.ConflictError{Resource: "instance", ID: inst.ID}
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_entries WHERE instance_id = ?`, inst.ID).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count form entries: %w", err)
	}
	if len(inst.FormData) < stored {
		return fmt.Errorf("form log of instance %s cannot shrink from %d to %d entries", inst.ID, stored, len(inst.FormData))
	}
	if err := insertEntries(ctx, tx, inst.ID, inst.FormData[stored:]); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instance: %w", err)
	}
	inst.Version++
	return nil
}

// ListInstancesByAssignee returns a page of instances assigned to assignee.
func (b *Backend) ListInstancesByAssignee(ctx context.Context, assignee string, req backend.PageRequest) (*backend.Page, error) {
	req = req.Normalize()

	var total int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE assignee = ?`, assignee).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, template_id, template_name, current_step_id, current_step_name,
			assignee, initiated_by, status, created_at, completed_at, version
		FROM instances WHERE assignee = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, assignee, req.Size, req.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var items []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		items = append(items, inst)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}

	// The single connection is released above before form logs are loaded.
	for _, inst := range items {
		if inst.FormData, err = b.loadFormLog(ctx, inst.ID); err != nil {
			return nil, err
		}
	}
	return backend.NewPage(items, req, total), nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func scanInstance(s scanner) (*workflow.Instance, error) {
	var (
		inst              workflow.Instance
		stepID, stepName  sql.NullString
		status, createdAt string
		completedAt       sql.NullString
	)
	err := s.Scan(
		&inst.ID, &inst.TemplateID, &inst.TemplateName, &stepID, &stepName,
		&inst.Assignee, &inst.InitiatedBy, &status, &createdAt, &completedAt, &inst.Version,
	)
	if err != nil {
		return nil, err
	}

	inst.CurrentStepID = stepID.String
	inst.CurrentStepName = stepName.String
	inst.Status = workflow.Status(status)
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		inst.CompletedAt = &t
	}
	return &inst, nil
}

func (b *Backend) loadFormLog(ctx context.Context, instanceID string) (workflow.FormLog, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT seq, step_id, submitted_by, payload, submitted_at
		FROM form_entries WHERE instance_id = ?
		ORDER BY seq
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form log: %w", err)
	}
	defer rows.Close()

	var log workflow.FormLog
	for rows.Next() {
		var (
			e           workflow.FormEntry
			stepID      sql.NullString
			submittedAt string
		)
		if err := rows.Scan(&e.Seq, &stepID, &e.SubmittedBy, &e.Payload, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan form entry: %w", err)
		}
		e.StepID = stepID.String
		if e.SubmittedAt, err = parseTime(submittedAt); err != nil {
			return nil, err
		}
		log = append(log, e)
	}
	return log, rows.Err()
}

func insertEntries(ctx context.Context, tx *sql.Tx, instanceID string, entries []workflow.FormEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO form_entries (instance_id, seq, step_id, submitted_by, payload, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, instanceID, e.Seq, e.StepID, e.SubmittedBy, e.Payload, formatTime(e.SubmittedAt))
		if err != nil {
			return fmt.Errorf("failed to append form entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
