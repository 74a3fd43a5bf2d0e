package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the compact UTC stamp used in generated file names.
const TimestampLayout = "20060102T150405Z"

// Dirs are the local directories the bot writes to.
type Dirs struct {
	Audio string // archived transcoded voice messages
	Text  string // overflow text files sent as documents
	Work  string // transient downloads and transcoder output
}

// Ensure creates every directory.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Audio, d.Text, d.Work} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// TempPath returns a unique path in the work directory with the given extension.
func (d Dirs) TempPath(ext string) string {
	return filepath.Join(d.Work, "voice_"+uuid.NewString()+ext)
}

// AudioName is the remote name of the audio archived for identifier.
func AudioName(identifier string) string {
	return identifier + ".mp3"
}

// MoveToArchive moves a transcoded file into the audio directory. The local name
// carries a random suffix: identifiers repeat across students and the file must
// survive until its queued upload has read it.
func (d Dirs) MoveToArchive(src, identifier string) (string, error) {
	dst := filepath.Join(d.Audio, identifier+"_"+shortID()+".mp3")
	if err := os.Rename(src, dst); err != nil {
		// work dir may live on another filesystem
		if cerr := copyFile(src, dst); cerr != nil {
			return "", fmt.Errorf("failed to archive audio %s: %w", dst, cerr)
		}
		_ = os.Remove(src)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SaveOverflowText writes text to a new <base>_<timestamp>_<suffix>.txt in the
// text directory. Earlier files are never overwritten.
func (d Dirs) SaveOverflowText(base, text string, now time.Time) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.txt", base, now.UTC().Format(TimestampLayout), shortID())
	path := filepath.Join(d.Text, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to save text file: %w", err)
	}
	return path, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
