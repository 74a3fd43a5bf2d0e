package archive

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveStore stores objects in one Google Drive folder.
type DriveStore struct {
	files    *drive.FilesService
	folderID string
}

// NewDriveStore authenticates with a service account key restricted to files the app creates.
func NewDriveStore(ctx context.Context, credentialsJSON []byte, folderID string) (*DriveStore, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials from JSON: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return NewDriveStoreWithService(svc, folderID), nil
}

func NewDriveStoreWithService(svc *drive.Service, folderID string) *DriveStore {
	return &DriveStore{files: svc.Files, folderID: folderID}
}

func (d *DriveStore) Find(ctx context.Context, name string) (string, error) {
	list, err := d.files.List().
		Q(findQuery(name, d.folderID)).
		Fields("files(id, name)").
		Spaces("drive").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive files.list: %w", err)
	}
	if len(list.Files) == 0 {
		return "", ErrNotFound
	}
	return list.Files[0].Id, nil
}

func (d *DriveStore) Create(ctx context.Context, localPath, name string) (string, error) {
	f, mimeType, err := openWithType(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	meta := &drive.File{Name: name, MimeType: mimeType}
	if d.folderID != "" {
		meta.Parents = []string{d.folderID}
	}
	created, err := d.files.Create(meta).
		Media(f, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive files.create: %w", err)
	}
	return created.Id, nil
}

// Update replaces content only; parents and name are left untouched.
func (d *DriveStore) Update(ctx context.Context, id, localPath string) (string, error) {
	f, mimeType, err := openWithType(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	updated, err := d.files.Update(id, &drive.File{}).
		Media(f, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive files.update: %w", err)
	}
	return updated.Id, nil
}

func openWithType(localPath string) (*os.File, string, error) {
	mt, err := mimetype.DetectFile(localPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, "", err
	}
	return f, mt.String(), nil
}

func findQuery(name, folderID string) string {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))
	if folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(folderID))
	}
	return q
}

// escapeQuery escapes a value for a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
