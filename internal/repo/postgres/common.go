package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

type descriptorColumn struct {
	Name                   string            `json:"name"`
	Version                string            `json:"version"`
	BaseImage              string            `json:"baseImage"`
	DependencyManifestPath string            `json:"dependencyManifestPath,omitempty"`
	Description            string            `json:"description,omitempty"`
	Tags                   map[string]string `json:"tags,omitempty"`
}

func encodeDescriptor(desc domain.EnvironmentDescriptor) ([]byte, error) {
	return json.Marshal(descriptorColumn(desc))
}

func decodeDescriptor(raw []byte) (domain.EnvironmentDescriptor, error) {
	if len(raw) == 0 {
		return domain.EnvironmentDescriptor{}, nil
	}
	var col descriptorColumn
	if err := json.Unmarshal(raw, &col); err != nil {
		return domain.EnvironmentDescriptor{}, err
	}
	return domain.EnvironmentDescriptor(col), nil
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}
