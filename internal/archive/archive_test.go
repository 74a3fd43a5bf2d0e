package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"oralgrader/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUploader_Upload(t *testing.T) {
	t.Run("Should overwrite the same object for in-place artifacts", func(t *testing.T) {
		dir := t.TempDir()
		p := writeFile(t, dir, "records.json", "[]")
		store := NewMemoryStore()
		u := NewUploader(store, nil)

		id1, err := u.Upload(context.Background(), model.RemoteArtifact{LocalPath: p, UpdateInPlace: true})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(p, []byte(`[{"request":"a"}]`), 0o644))
		id2, err := u.Upload(context.Background(), model.RemoteArtifact{LocalPath: p, UpdateInPlace: true})
		require.NoError(t, err)

		assert.Equal(t, id1, id2)
		objs := store.Objects()
		require.Len(t, objs, 1)
		assert.Equal(t, "records.json", objs[0].Name)
		assert.Equal(t, 2, objs[0].Version)
		assert.Equal(t, `[{"request":"a"}]`, string(objs[0].Content))
	})

	t.Run("Should create a new object every time otherwise", func(t *testing.T) {
		dir := t.TempDir()
		p := writeFile(t, dir, "hello.mp3", "ID3")
		store := NewMemoryStore()
		u := NewUploader(store, nil)

		id1, err := u.Upload(context.Background(), model.RemoteArtifact{LocalPath: p})
		require.NoError(t, err)
		id2, err := u.Upload(context.Background(), model.RemoteArtifact{LocalPath: p})
		require.NoError(t, err)

		assert.NotEqual(t, id1, id2)
		objs := store.Objects()
		require.Len(t, objs, 2)
		assert.Equal(t, "hello.mp3", objs[0].Name)
		assert.Equal(t, "hello.mp3", objs[1].Name)
	})

	t.Run("Should use the remote name when given", func(t *testing.T) {
		dir := t.TempDir()
		p := writeFile(t, dir, "local.txt", "x")
		store := NewMemoryStore()
		_, err := NewUploader(store, nil).Upload(context.Background(), model.RemoteArtifact{LocalPath: p, RemoteName: "remote.txt"})
		require.NoError(t, err)
		assert.Equal(t, "remote.txt", store.Objects()[0].Name)
	})

	t.Run("Should fail when the local file is missing", func(t *testing.T) {
		_, err := NewUploader(NewMemoryStore(), nil).Upload(context.Background(), model.RemoteArtifact{LocalPath: "/nonexistent/file"})
		assert.Error(t, err)
	})
}

type recordingUploader struct {
	mu      sync.Mutex
	seen    []model.RemoteArtifact
	entered chan struct{}
	block   chan struct{}
	err     error
}

func (r *recordingUploader) Upload(_ context.Context, a model.RemoteArtifact) (string, error) {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, a)
	return "id", r.err
}

func (r *recordingUploader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestQueue(t *testing.T) {
	t.Run("Should upload notified artifacts in the background", func(t *testing.T) {
		up := &recordingUploader{}
		q := NewQueue(up, 4, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = q.Run(ctx)
			close(done)
		}()

		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/a.mp3"})
		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/b.mp3"})

		assert.Eventually(t, func() bool { return up.count() == 2 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("Should coalesce pending in-place artifacts", func(t *testing.T) {
		up := &recordingUploader{}
		q := NewQueue(up, 8, nil)

		for i := 0; i < 5; i++ {
			q.Notify(model.RemoteArtifact{LocalPath: "/tmp/records.json", UpdateInPlace: true})
		}
		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/x.mp3"})
		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/x.mp3"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, q.Run(ctx))

		assert.Equal(t, 3, up.count())
	})

	t.Run("Should drop artifacts when the buffer is full", func(t *testing.T) {
		up := &recordingUploader{}
		q := NewQueue(up, 1, nil)

		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/1.mp3"})
		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/2.mp3"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, q.Run(ctx))

		require.Equal(t, 1, up.count())
		assert.Equal(t, "/tmp/1.mp3", up.seen[0].LocalPath)
	})

	t.Run("Should keep running after an upload error", func(t *testing.T) {
		up := &recordingUploader{err: errors.New("quota exceeded")}
		q := NewQueue(up, 4, nil)
		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/1.mp3"})
		q.Notify(model.RemoteArtifact{LocalPath: "/tmp/2.mp3"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, q.Run(ctx))
		assert.Equal(t, 2, up.count())
	})

	t.Run("Should requeue an in-place artifact written during its upload", func(t *testing.T) {
		up := &recordingUploader{entered: make(chan struct{}, 1), block: make(chan struct{})}
		q := NewQueue(up, 4, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = q.Run(ctx)
			close(done)
		}()

		log := model.RemoteArtifact{LocalPath: "/tmp/records.json", UpdateInPlace: true}
		q.Notify(log)
		<-up.entered
		q.Notify(log)
		close(up.block)

		assert.Eventually(t, func() bool { return up.count() == 2 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})
}

func newTestDrive(t *testing.T, handler http.HandlerFunc) *DriveStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewDriveStoreWithService(svc, "folder-1")
}

func TestDriveStore_Find(t *testing.T) {
	t.Run("Should query by exact name inside the folder", func(t *testing.T) {
		var gotQuery string
		store := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("q")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"files": []map[string]string{{"id": "abc", "name": "records.json"}},
			})
		})

		id, err := store.Find(context.Background(), "records.json")
		require.NoError(t, err)
		assert.Equal(t, "abc", id)
		assert.Equal(t, "name = 'records.json' and trashed = false and 'folder-1' in parents", gotQuery)
	})

	t.Run("Should return ErrNotFound on an empty listing", func(t *testing.T) {
		store := newTestDrive(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"files":[]}`))
		})
		_, err := store.Find(context.Background(), "missing.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should surface API errors", func(t *testing.T) {
		store := newTestDrive(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
		})
		_, err := store.Find(context.Background(), "records.json")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestDriveStore_Create(t *testing.T) {
	t.Run("Should upload into the folder and return the new id", func(t *testing.T) {
		var method, path string
		store := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
			method, path = r.Method, r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"new-id"}`))
		})
		p := writeFile(t, t.TempDir(), "reply.txt", "hello")

		id, err := store.Create(context.Background(), p, "reply.txt")
		require.NoError(t, err)
		assert.Equal(t, "new-id", id)
		assert.Equal(t, http.MethodPost, method)
		assert.Contains(t, path, "/files")
	})
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
}
