package artifacts

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/storage/objectstore"
)

const (
	DefaultConcurrency = 4
	codePrefix         = "code/"
	archiveType        = "application/gzip"
)

var ErrCodeDir = errors.New("invalid code directory")

// Snapshotter uploads the source folder of every step as a content-addressed
// archive so identical code is stored once.
type Snapshotter struct {
	store       objectstore.Store
	bucket      string
	concurrency int
	logger      *slog.Logger
}

func NewSnapshotter(store objectstore.Store, bucket string, logger *slog.Logger) (*Snapshotter, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Snapshotter{store: store, bucket: bucket, concurrency: DefaultConcurrency, logger: logger}, nil
}

// Snapshot returns a copy of req whose steps carry the object URI of their
// code. Relative code directories resolve against baseDir. Steps without a
// code directory are left untouched.
func (s *Snapshotter) Snapshot(ctx context.Context, req domain.ExecutionRequest, baseDir string) (domain.ExecutionRequest, error) {
	out := req.Clone()

	dirs := make(map[string][]int)
	for i, step := range out.Steps {
		if strings.TrimSpace(step.CodeDir) == "" {
			continue
		}
		dir := step.CodeDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		dir = filepath.Clean(dir)
		dirs[dir] = append(dirs[dir], i)
	}
	if len(dirs) == 0 {
		return out, nil
	}

	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	sort.Strings(ordered)

	var mu sync.Mutex
	uris := make(map[string]string, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, dir := range ordered {
		dir := dir
		g.Go(func() error {
			uri, err := s.upload(gctx, dir)
			if err != nil {
				return err
			}
			mu.Lock()
			uris[dir] = uri
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.ExecutionRequest{}, err
	}

	for dir, steps := range dirs {
		for _, i := range steps {
			out.Steps[i].CodeURI = uris[dir]
		}
	}
	return out, nil
}

func (s *Snapshotter) upload(ctx context.Context, dir string) (string, error) {
	archive, err := Archive(dir)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(archive)
	digest := hex.EncodeToString(sum[:])
	key := codePrefix + digest + ".tar.gz"
	uri := "s3://" + s.bucket + "/" + key

	info, err := s.store.Stat(ctx, s.bucket, key)
	switch {
	case err == nil && info.Size == int64(len(archive)):
		s.logger.Debug("code snapshot exists", "code_dir", dir, "uri", uri)
		return uri, nil
	case err == nil:
		// A short object is a failed earlier upload; overwrite it.
		s.logger.Warn("code snapshot size mismatch, uploading again", "uri", uri, "size", info.Size, "want", len(archive))
	case errors.Is(err, objectstore.ErrObjectNotFound):
	default:
		return "", fmt.Errorf("stat %s: %w", uri, err)
	}

	obj := objectstore.Object{
		Key:         key,
		Body:        bytes.NewReader(archive),
		Size:        int64(len(archive)),
		ContentType: archiveType,
		SHA256:      digest,
	}
	if err := s.store.Put(ctx, s.bucket, obj); err != nil {
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	s.logger.Info("code snapshot uploaded", "code_dir", dir, "uri", uri, "bytes", len(archive))
	return uri, nil
}

// Archive packs dir into a gzip-compressed tar. Entries are sorted and all
// timestamps and ownership are zeroed so equal trees give equal bytes.
func Archive(dir string) ([]byte, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCodeDir, dir)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := path.Clean(filepath.ToSlash(rel))
		if d.IsDir() && (d.Name() == ".git" || d.Name() == "__pycache__") {
			return filepath.SkipDir
		}

		switch {
		case d.IsDir():
			return tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: name + "/", Mode: 0o755, Format: tar.FormatPAX})
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			mode := int64(0o644)
			if fi.Mode()&0o111 != 0 {
				mode = 0o755
			}
			if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: name, Mode: mode, Size: fi.Size(), Format: tar.FormatPAX}); err != nil {
				return err
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		default:
			// Symlinks and special files are not part of a snapshot.
			return nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
