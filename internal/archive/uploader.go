package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"oralgrader/internal/model"
)

// Uploader pushes one artifact to the store.
type Uploader struct {
	store Store
	log   logrus.FieldLogger
}

func NewUploader(store Store, log logrus.FieldLogger) *Uploader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Uploader{store: store, log: log.WithField("component", "archive")}
}

// Upload replicates a. In-place artifacts overwrite the object with the same name
// when one exists; every other artifact becomes a new object, duplicates included.
func (u *Uploader) Upload(ctx context.Context, a model.RemoteArtifact) (string, error) {
	name := a.RemoteName
	if name == "" {
		name = filepath.Base(a.LocalPath)
	}

	if a.UpdateInPlace {
		id, err := u.store.Find(ctx, name)
		switch {
		case err == nil:
			id, err = u.store.Update(ctx, id, a.LocalPath)
			if err != nil {
				return "", fmt.Errorf("failed to update %s: %w", name, err)
			}
			u.log.WithFields(logrus.Fields{"name": name, "id": id}).Info("updated remote object")
			return id, nil
		case !errors.Is(err, ErrNotFound):
			return "", fmt.Errorf("failed to look up %s: %w", name, err)
		}
	}

	id, err := u.store.Create(ctx, a.LocalPath, name)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	u.log.WithFields(logrus.Fields{"name": name, "id": id}).Info("uploaded new remote object")
	return id, nil
}
