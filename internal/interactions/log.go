// Package interactions keeps the append-only log of request/response pairs.
package interactions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"oralgrader/internal/archive"
	"oralgrader/internal/model"
)

// TimestampLayout renders UTC timestamps with microseconds and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

const (
	lockRetryDelay = 25 * time.Millisecond
	logFileMode    = 0o644
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("interaction log is closed")

type appendRequest struct {
	record model.InteractionRecord
	result chan error
}

// Log owns the log file. Appends are applied by one writer goroutine in arrival
// order; an advisory file lock covers the read-modify-write so a second process
// sharing the file does not interleave with it.
type Log struct {
	path     string
	lock     *flock.Flock
	notifier archive.Notifier
	log      logrus.FieldLogger
	now      func() time.Time

	requests  chan appendRequest
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts the writer for the log at path. notifier may be nil.
func Open(path string, notifier archive.Notifier, log logrus.FieldLogger) *Log {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Log{
		path:     path,
		lock:     flock.New(path + ".lock"),
		notifier: notifier,
		log:      log.WithField("component", "interactions"),
		now:      time.Now,
		requests: make(chan appendRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Log) Path() string { return l.path }

// Append records one request/response pair and schedules replication of the log.
// Replication problems never surface here.
func (l *Log) Append(ctx context.Context, request, response string) (model.InteractionRecord, error) {
	rec := model.InteractionRecord{
		Timestamp: l.now().UTC().Format(TimestampLayout),
		Request:   request,
		Response:  response,
	}
	req := appendRequest{record: rec, result: make(chan error, 1)}

	select {
	case l.requests <- req:
	case <-l.quit:
		return rec, ErrClosed
	case <-ctx.Done():
		return rec, ctx.Err()
	}

	// once accepted the write completes even if ctx is cancelled
	if err := <-req.result; err != nil {
		return rec, err
	}
	if l.notifier != nil {
		l.notifier.Notify(model.RemoteArtifact{
			LocalPath:     l.path,
			RemoteName:    filepath.Base(l.path),
			UpdateInPlace: true,
		})
	}
	return rec, nil
}

// Records returns every record in file order.
func (l *Log) Records(ctx context.Context) ([]model.InteractionRecord, error) {
	// a separate descriptor so the shared lock never merges with the writer's
	rl := flock.New(l.lock.Path())
	ok, err := rl.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock interaction log: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to lock interaction log: %w", ctx.Err())
	}
	defer func() {
		if err := rl.Unlock(); err != nil {
			l.log.WithError(err).Warn("failed to release interaction log lock")
		}
	}()
	return l.load(), nil
}

// Close stops the writer after any append it already accepted.
func (l *Log) Close() error {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
	return nil
}

func (l *Log) run() {
	defer close(l.done)
	for {
		select {
		case req := <-l.requests:
			req.result <- l.write(req.record)
		case <-l.quit:
			return
		}
	}
}

func (l *Log) write(rec model.InteractionRecord) error {
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock interaction log: %w", err)
	}
	defer l.unlock()

	records := append(l.load(), rec)
	data, err := encode(records)
	if err != nil {
		return fmt.Errorf("failed to encode interaction log: %w", err)
	}
	if err := writeAtomic(l.path, data); err != nil {
		return fmt.Errorf("failed to write interaction log: %w", err)
	}
	l.log.WithField("records", len(records)).Debug("interaction appended")
	return nil
}

// load reads the log. A missing file is an empty log; so is an unreadable one,
// which means the next append replaces whatever was there.
func (l *Log) load() []model.InteractionRecord {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		l.log.WithError(err).Warn("interaction log unreadable, starting from empty")
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var records []model.InteractionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		l.log.WithError(err).Warn("interaction log is corrupt, starting from empty")
		return nil
	}
	return records
}

func (l *Log) unlock() {
	if err := l.lock.Unlock(); err != nil {
		l.log.WithError(err).Warn("failed to release interaction log lock")
	}
}

func encode(records []model.InteractionRecord) ([]byte, error) {
	if records == nil {
		records = []model.InteractionRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// CreateTemp opens with 0600
	if err := tmp.Chmod(logFileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
