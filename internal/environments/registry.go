package environments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/repo"
)

var (
	ErrEnvironmentConflict = errors.New("environment already registered with different content")
	ErrNotFound            = errors.New("environment not found")
	ErrInvalidEnvironment  = errors.New("invalid environment")
)

// Platform is the remote side of a registration. RegisterEnvironment must be
// idempotent for a fixed (name, version).
type Platform interface {
	RegisterEnvironment(ctx context.Context, desc domain.EnvironmentDescriptor, condaFile []byte) (string, error)
}

// Registry registers environments at most once per (name, version).
type Registry struct {
	store    repo.EnvironmentRepository
	platform Platform
	baseDir  string
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Registry)

// WithBaseDir resolves relative dependency manifest paths against dir.
func WithBaseDir(dir string) Option {
	return func(r *Registry) { r.baseDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRegistry(store repo.EnvironmentRepository, platform Platform, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("environment store is required")
	}
	if platform == nil {
		return nil, errors.New("environment platform is required")
	}
	r := &Registry{
		store:    store,
		platform: platform,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register makes desc available to steps. A repeated registration with the
// same content returns the original identity without contacting the platform.
func (r *Registry) Register(ctx context.Context, desc domain.EnvironmentDescriptor) (domain.EnvironmentIdentity, error) {
	desc.Name = strings.TrimSpace(desc.Name)
	desc.Version = strings.TrimSpace(desc.Version)
	if err := desc.Validate(); err != nil {
		return domain.EnvironmentIdentity{}, fmt.Errorf("%w: %v", ErrInvalidEnvironment, err)
	}
	condaFile, err := r.readManifest(desc.DependencyManifestPath)
	if err != nil {
		return domain.EnvironmentIdentity{}, err
	}
	digest := desc.DigestWith(condaFile)

	existing, err := r.store.GetEnvironment(ctx, desc.Name, desc.Version)
	switch {
	case err == nil:
		return r.reuse(existing, desc, digest)
	case errors.Is(err, repo.ErrNotFound):
	default:
		return domain.EnvironmentIdentity{}, fmt.Errorf("lookup environment %s: %w", desc.Ref(), err)
	}

	remoteID, err := r.platform.RegisterEnvironment(ctx, desc, condaFile)
	if err != nil {
		return domain.EnvironmentIdentity{}, fmt.Errorf("register environment %s: %w", desc.Ref(), err)
	}
	if remoteID == "" {
		remoteID = uuid.NewString()
	}

	record := repo.EnvironmentRecord{
		Identity: domain.EnvironmentIdentity{
			ID:           remoteID,
			Name:         desc.Name,
			Version:      desc.Version,
			Digest:       digest,
			RegisteredAt: r.now(),
		},
		Descriptor: desc,
	}
	stored, created, err := r.store.CreateEnvironment(ctx, record)
	if err != nil {
		return domain.EnvironmentIdentity{}, fmt.Errorf("record environment %s: %w", desc.Ref(), err)
	}
	if !created {
		// Lost a race with another registration of the same identity.
		return r.reuse(stored, desc, digest)
	}
	r.logger.Info("environment registered", "environment", desc.Ref().String(), "environment_id", stored.Identity.ID)
	return stored.Identity, nil
}

func (r *Registry) reuse(existing repo.EnvironmentRecord, desc domain.EnvironmentDescriptor, digest string) (domain.EnvironmentIdentity, error) {
	if existing.Identity.Digest != digest {
		reason := "dependency manifest content changed"
		if err := domain.EnsureEnvironmentImmutable(existing.Descriptor, desc); err != nil {
			reason = err.Error()
		}
		return domain.EnvironmentIdentity{}, fmt.Errorf("%w: %s: %s", ErrEnvironmentConflict, desc.Ref(), reason)
	}
	r.logger.Debug("environment already registered", "environment", desc.Ref().String(), "environment_id", existing.Identity.ID)
	return existing.Identity, nil
}

// Lookup returns the identity registered for (name, version).
func (r *Registry) Lookup(ctx context.Context, name, version string) (domain.EnvironmentIdentity, error) {
	record, err := r.store.GetEnvironment(ctx, name, version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.EnvironmentIdentity{}, fmt.Errorf("%w: %s:%s", ErrNotFound, name, version)
		}
		return domain.EnvironmentIdentity{}, err
	}
	return record.Identity, nil
}

func (r *Registry) readManifest(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) && r.baseDir != "" {
		path = filepath.Join(r.baseDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: dependency manifest: %v", ErrInvalidEnvironment, err)
	}
	return raw, nil
}
