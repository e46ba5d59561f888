package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool management -----------------------------------------------------------

// ListTools returns all tool records ordered by name.
func (s *Store) ListTools(ctx context.Context) ([]Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT name, status, version, current_stage, config_data, last_updated
        FROM tools
        ORDER BY name
    `)
	if err != nil {
		return nil, fmt.Errorf("store: list tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan tool: %w", err)
		}
		tools = append(tools, tool)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate tools: %w", err)
	}

	return tools, nil
}

// GetTool retrieves a tool record by name.
func (s *Store) GetTool(ctx context.Context, name string) (Tool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tool{}, fmt.Errorf("store: get tool: name required")
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT name, status, version, current_stage, config_data, last_updated
        FROM tools
        WHERE name = ?
    `, name)

	tool, err := scanTool(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Tool{}, NotFoundError{Entity: "tool", Key: name}
		}
		return Tool{}, fmt.Errorf("store: get tool %q: %w", name, err)
	}
	return tool, nil
}

// EnsureTool creates a tool record with the given defaults when no row with
// that name exists yet. It reports whether a row was created. Existing rows
// are never modified.
func (s *Store) EnsureTool(ctx context.Context, name, version string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("store: ensure tool: name required")
	}

	var created bool
	err := s.withWriteTx(ctx, "ensure tool", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO tools (name, status, version, last_updated)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(name) DO NOTHING
        `, name, ToolStatusNotInstalled, version)
		if err != nil {
			return fmt.Errorf("store: ensure tool %q: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			created = true
		}
		return nil
	})
	return created, err
}

// BeginToolInstall atomically moves the named tool into the installing
// status. It reports false when the tool is already installing, so
// concurrent install requests resolve to exactly one winner. Tool rows are
// never deleted, so a zero-row update can only mean an install in progress.
func (s *Store) BeginToolInstall(ctx context.Context, name string) (bool, error) {
	started := false
	err := s.withWriteTx(ctx, "begin tool install", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE tools
            SET status = ?, last_updated = CURRENT_TIMESTAMP
            WHERE name = ? AND status != ?
        `, ToolStatusInstalling, name, ToolStatusInstalling)
		if err != nil {
			return fmt.Errorf("store: begin install for tool %q: %w", name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: begin install for tool %q: %w", name, err)
		}
		started = n > 0
		return nil
	})
	return started, err
}

// UpdateToolStatus sets the installation status for the named tool.
func (s *Store) UpdateToolStatus(ctx context.Context, name, status string) error {
	return s.updateToolColumn(ctx, name, "status", status)
}

// UpdateToolVersion records the installed service version for the named tool.
func (s *Store) UpdateToolVersion(ctx context.Context, name, toolVersion string) error {
	return s.updateToolColumn(ctx, name, "version", toolVersion)
}

// SetToolStage records a free-form progress stage (e.g. "pulling image").
func (s *Store) SetToolStage(ctx context.Context, name, stage string) error {
	return s.updateToolColumn(ctx, name, "current_stage", stage)
}

func (s *Store) updateToolColumn(ctx context.Context, name, column, value string) error {
	return s.withWriteTx(ctx, "update tool "+column, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
            UPDATE tools
            SET %s = ?, last_updated = CURRENT_TIMESTAMP
            WHERE name = ?
        `, column), value, name)
		if err != nil {
			return fmt.Errorf("store: update tool %q %s: %w", name, column, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return NotFoundError{Entity: "tool", Key: name}
		}
		return nil
	})
}

// SetToolConfig replaces the free-form configuration blob for the named tool.
func (s *Store) SetToolConfig(ctx context.Context, name string, cfg map[string]any) error {
	var payload any
	if len(cfg) > 0 {
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("store: encode tool %q config: %w", name, err)
		}
		payload = string(data)
	}

	return s.withWriteTx(ctx, "set tool config", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE tools
            SET config_data = ?, last_updated = CURRENT_TIMESTAMP
            WHERE name = ?
        `, payload, name)
		if err != nil {
			return fmt.Errorf("store: set tool %q config: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return NotFoundError{Entity: "tool", Key: name}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (Tool, error) {
	var (
		tool    Tool
		version sql.NullString
		stage   sql.NullString
		cfg     sql.NullString
	)
	if err := row.Scan(&tool.Name, &tool.Status, &version, &stage, &cfg, &tool.LastUpdated); err != nil {
		return Tool{}, err
	}
	tool.Version = version.String
	tool.CurrentStage = stage.String
	if cfg.Valid && strings.TrimSpace(cfg.String) != "" {
		if err := json.Unmarshal([]byte(cfg.String), &tool.ConfigData); err != nil {
			return Tool{}, fmt.Errorf("decode config_data: %w", err)
		}
	}
	return tool, nil
}
