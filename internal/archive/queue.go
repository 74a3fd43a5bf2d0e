package archive

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"oralgrader/internal/model"
)

// Notifier accepts artifacts for best-effort replication.
type Notifier interface {
	Notify(a model.RemoteArtifact)
}

type artifactUploader interface {
	Upload(ctx context.Context, a model.RemoteArtifact) (string, error)
}

// Queue decouples replication from the request path: Notify never blocks and a
// single worker started with Run performs the uploads. Upload errors are logged
// and dropped. An in-place artifact already waiting in the queue is not queued twice,
// since the pending upload will read the latest file content anyway.
type Queue struct {
	uploader artifactUploader
	ch       chan model.RemoteArtifact
	log      logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]bool
}

func NewQueue(uploader artifactUploader, size int, log logrus.FieldLogger) *Queue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if size < 1 {
		size = 1
	}
	return &Queue{
		uploader: uploader,
		ch:       make(chan model.RemoteArtifact, size),
		log:      log.WithField("component", "archive-queue"),
		pending:  make(map[string]bool),
	}
}

func (q *Queue) Notify(a model.RemoteArtifact) {
	key := remoteName(a)
	if a.UpdateInPlace {
		q.mu.Lock()
		if q.pending[key] {
			q.mu.Unlock()
			return
		}
		q.pending[key] = true
		q.mu.Unlock()
	}

	select {
	case q.ch <- a:
	default:
		if a.UpdateInPlace {
			q.clearPending(key)
		}
		q.log.WithFields(logrus.Fields{"path": a.LocalPath, "name": key}).
			Error("archive queue is full, artifact not replicated")
	}
}

// Run uploads queued artifacts until ctx is done, then drains what is left.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case a := <-q.ch:
			q.process(ctx, a)
		case <-ctx.Done():
			q.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case a := <-q.ch:
			q.process(ctx, a)
		default:
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, a model.RemoteArtifact) {
	key := remoteName(a)
	if a.UpdateInPlace {
		// a write landing during this upload must queue a fresh sync
		q.clearPending(key)
	}
	id, err := q.uploader.Upload(ctx, a)
	if err != nil {
		q.log.WithError(err).WithField("path", a.LocalPath).Error("failed to replicate artifact")
		return
	}
	q.log.WithFields(logrus.Fields{"name": key, "id": id}).Debug("artifact replicated")
}

func (q *Queue) clearPending(key string) {
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func remoteName(a model.RemoteArtifact) string {
	if a.RemoteName != "" {
		return a.RemoteName
	}
	return filepath.Base(a.LocalPath)
}
