package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Docker registry management ------------------------------------------------

// ListDockerRegistries returns all configured registries, oldest first.
func (s *Store) ListDockerRegistries(ctx context.Context) ([]DockerRegistry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, url, username, password, created_at
        FROM docker_registries
        ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("store: list docker registries: %w", err)
	}
	defer rows.Close()

	var registries []DockerRegistry
	for rows.Next() {
		var (
			reg      DockerRegistry
			username sql.NullString
			password sql.NullString
		)
		if err := rows.Scan(&reg.ID, &reg.Name, &reg.URL, &username, &password, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan docker registry: %w", err)
		}
		reg.Username = username.String
		reg.Password = password.String
		registries = append(registries, reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate docker registries: %w", err)
	}

	return registries, nil
}

// AddDockerRegistry stores a new registry and returns its id.
func (s *Store) AddDockerRegistry(ctx context.Context, reg DockerRegistry) (int64, error) {
	if strings.TrimSpace(reg.Name) == "" || strings.TrimSpace(reg.URL) == "" {
		return 0, fmt.Errorf("store: add docker registry: name and url required")
	}

	var id int64
	err := s.withWriteTx(ctx, "add docker registry", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO docker_registries (name, url, username, password, created_at)
            VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        `, reg.Name, reg.URL, nullIfEmpty(reg.Username), nullIfEmpty(reg.Password))
		if err != nil {
			return fmt.Errorf("store: add docker registry %q: %w", reg.Name, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: add docker registry %q: %w", reg.Name, err)
		}
		return nil
	})
	return id, err
}

// RemoveDockerRegistry deletes a registry by id.
func (s *Store) RemoveDockerRegistry(ctx context.Context, id int64) error {
	return s.withWriteTx(ctx, "remove docker registry", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM docker_registries WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: remove docker registry %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return NotFoundError{Entity: "docker registry", Key: fmt.Sprintf("%d", id)}
		}
		return nil
	})
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
