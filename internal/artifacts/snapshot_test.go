package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/storage/objectstore"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	statErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, bucket string, obj objectstore.Object) error {
	raw, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	if int64(len(raw)) != obj.Size {
		return errors.New("size mismatch")
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != obj.SHA256 {
		return errors.New("digest mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[bucket+"/"+obj.Key] = raw
	return nil
}

func (f *fakeStore) Stat(_ context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statErr != nil {
		return objectstore.ObjectInfo{}, f.statErr
	}
	raw, ok := f.objects[bucket+"/"+key]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrObjectNotFound
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(raw))}, nil
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func request(codeDirs ...string) domain.ExecutionRequest {
	req := domain.ExecutionRequest{Name: "p", ComputeTarget: "cpu-cluster"}
	for i, dir := range codeDirs {
		req.Steps = append(req.Steps, domain.RequestStep{Name: string(rune('a' + i)), Command: "python main.py", CodeDir: dir})
	}
	return req
}

func TestArchive_Deterministic(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	files := map[string]string{"prep.py": "print('prep')\n", "lib/util.py": "X = 1\n"}
	writeTree(t, a, files)
	writeTree(t, b, files)
	if err := os.Chtimes(filepath.Join(b, "prep.py"), testTime, testTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	first, err := Archive(a)
	if err != nil {
		t.Fatalf("Archive() err=%v", err)
	}
	second, err := Archive(b)
	if err != nil {
		t.Fatalf("Archive() err=%v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("archives of equal trees differ")
	}

	writeTree(t, b, map[string]string{"prep.py": "print('changed')\n"})
	third, _ := Archive(b)
	if bytes.Equal(first, third) {
		t.Fatalf("archive did not change with content")
	}
}

func TestArchive_MissingDir(t *testing.T) {
	if _, err := Archive(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrCodeDir) {
		t.Fatalf("err=%v, want ErrCodeDir", err)
	}
}

func TestSnapshot_UploadsOncePerContent(t *testing.T) {
	base := t.TempDir()
	writeTree(t, base, map[string]string{
		"src/prep/prep.py":   "print('prep')\n",
		"src/train/train.py": "print('train')\n",
	})
	store := newFakeStore()
	snap, err := NewSnapshotter(store, "code-snapshots", nil)
	if err != nil {
		t.Fatalf("NewSnapshotter() err=%v", err)
	}

	req := request("src/prep", "src/train", "src/prep", "")
	got, err := snap.Snapshot(context.Background(), req, base)
	if err != nil {
		t.Fatalf("Snapshot() err=%v", err)
	}
	if store.puts != 2 {
		t.Fatalf("puts=%d, want 2", store.puts)
	}
	if got.Steps[0].CodeURI == "" || got.Steps[0].CodeURI != got.Steps[2].CodeURI {
		t.Fatalf("shared code dir URIs=%q %q", got.Steps[0].CodeURI, got.Steps[2].CodeURI)
	}
	if got.Steps[0].CodeURI == got.Steps[1].CodeURI {
		t.Fatalf("distinct code dirs share URI")
	}
	if !strings.HasPrefix(got.Steps[1].CodeURI, "s3://code-snapshots/code/") || !strings.HasSuffix(got.Steps[1].CodeURI, ".tar.gz") {
		t.Fatalf("CodeURI=%q", got.Steps[1].CodeURI)
	}
	if got.Steps[3].CodeURI != "" {
		t.Fatalf("step without code dir got URI %q", got.Steps[3].CodeURI)
	}
	if req.Steps[0].CodeURI != "" {
		t.Fatalf("input request was modified")
	}

	again, err := snap.Snapshot(context.Background(), req, base)
	if err != nil {
		t.Fatalf("second Snapshot() err=%v", err)
	}
	if store.puts != 2 {
		t.Fatalf("puts=%d after unchanged resnapshot, want 2", store.puts)
	}
	if again.Steps[1].CodeURI != got.Steps[1].CodeURI {
		t.Fatalf("URI changed for unchanged code")
	}
}

func TestSnapshot_StatFailure(t *testing.T) {
	base := t.TempDir()
	writeTree(t, base, map[string]string{"src/main.py": "pass\n"})
	store := newFakeStore()
	store.statErr = errors.New("access denied")
	snap, _ := NewSnapshotter(store, "code-snapshots", nil)

	if _, err := snap.Snapshot(context.Background(), request("src"), base); err == nil {
		t.Fatalf("expected error")
	}
	if store.puts != 0 {
		t.Fatalf("puts=%d, want 0", store.puts)
	}
}

func TestSnapshot_ReplacesTruncatedObject(t *testing.T) {
	base := t.TempDir()
	writeTree(t, base, map[string]string{"src/main.py": "pass\n"})
	store := newFakeStore()
	snap, _ := NewSnapshotter(store, "code-snapshots", nil)

	got, err := snap.Snapshot(context.Background(), request("src"), base)
	if err != nil {
		t.Fatalf("Snapshot() err=%v", err)
	}
	objectKey := strings.TrimPrefix(got.Steps[0].CodeURI, "s3://")
	store.objects[objectKey] = store.objects[objectKey][:10]

	if _, err := snap.Snapshot(context.Background(), request("src"), base); err != nil {
		t.Fatalf("second Snapshot() err=%v", err)
	}
	if store.puts != 2 {
		t.Fatalf("puts=%d, want 2 after truncation", store.puts)
	}
}

var testTime = mustTime("2021-06-01T12:00:00Z")

func mustTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		panic(err)
	}
	return t
}
