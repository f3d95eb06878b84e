package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/mlpipe/internal/repo"
)

type EnvironmentStore struct {
	db DB
}

const (
	insertEnvironmentQuery = `INSERT INTO registered_environments (
		environment_id,
		name,
		version,
		digest,
		descriptor,
		registered_at
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (name, version) DO NOTHING
	RETURNING environment_id, name, version, digest, descriptor, registered_at`

	selectEnvironmentQuery = `SELECT environment_id, name, version, digest, descriptor, registered_at
	 FROM registered_environments
	 WHERE name = $1 AND version = $2`
)

func NewEnvironmentStore(db DB) *EnvironmentStore {
	if db == nil {
		return nil
	}
	return &EnvironmentStore{db: db}
}

func (s *EnvironmentStore) CreateEnvironment(ctx context.Context, record repo.EnvironmentRecord) (repo.EnvironmentRecord, bool, error) {
	if s == nil || s.db == nil {
		return repo.EnvironmentRecord{}, false, fmt.Errorf("environment store not initialized")
	}
	id := record.Identity
	id.Name = strings.TrimSpace(id.Name)
	id.Version = strings.TrimSpace(id.Version)
	if id.Name == "" || id.Version == "" {
		return repo.EnvironmentRecord{}, false, fmt.Errorf("environment name and version are required")
	}
	if strings.TrimSpace(id.Digest) == "" {
		return repo.EnvironmentRecord{}, false, fmt.Errorf("environment digest is required")
	}
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	descriptor, err := encodeDescriptor(record.Descriptor)
	if err != nil {
		return repo.EnvironmentRecord{}, false, fmt.Errorf("encode descriptor: %w", err)
	}

	row := s.db.QueryRowContext(
		ctx,
		insertEnvironmentQuery,
		id.ID,
		id.Name,
		id.Version,
		id.Digest,
		descriptor,
		normalizeTime(id.RegisteredAt),
	)
	out, err := scanEnvironment(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return repo.EnvironmentRecord{}, false, fmt.Errorf("insert environment: %w", err)
		}
		existing, err := s.GetEnvironment(ctx, id.Name, id.Version)
		if err != nil {
			return repo.EnvironmentRecord{}, false, err
		}
		return existing, false, nil
	}
	return out, true, nil
}

func (s *EnvironmentStore) GetEnvironment(ctx context.Context, name, version string) (repo.EnvironmentRecord, error) {
	if s == nil || s.db == nil {
		return repo.EnvironmentRecord{}, fmt.Errorf("environment store not initialized")
	}
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" || version == "" {
		return repo.EnvironmentRecord{}, fmt.Errorf("environment name and version are required")
	}
	out, err := scanEnvironment(s.db.QueryRowContext(ctx, selectEnvironmentQuery, name, version))
	if err != nil {
		return repo.EnvironmentRecord{}, handleNotFound(err)
	}
	return out, nil
}

func scanEnvironment(row *sql.Row) (repo.EnvironmentRecord, error) {
	var (
		record     repo.EnvironmentRecord
		descriptor []byte
	)
	if err := row.Scan(&record.Identity.ID, &record.Identity.Name, &record.Identity.Version, &record.Identity.Digest, &descriptor, &record.Identity.RegisteredAt); err != nil {
		return repo.EnvironmentRecord{}, err
	}
	desc, err := decodeDescriptor(descriptor)
	if err != nil {
		return repo.EnvironmentRecord{}, fmt.Errorf("decode descriptor: %w", err)
	}
	record.Descriptor = desc
	record.Identity.RegisteredAt = record.Identity.RegisteredAt.UTC()
	return record, nil
}
