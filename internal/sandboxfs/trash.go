package sandboxfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyExists is returned by Restore when the original path is
// occupied.
var ErrAlreadyExists = errors.New("sandboxfs: restore target already exists")

// ErrTrashEntryNotFound is returned when an id has no matching trash entry.
var ErrTrashEntryNotFound = errors.New("sandboxfs: trash entry not found")

// systemPaths are handed by the rm/rmdir wrappers straight to the real
// binary rather than to trash.
var systemPaths = []string{"/tmp", "/dev", "/proc", "/sys"}

// Entry is a trash entry's metadata.
type Entry struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	DisplayName  string    `json:"display_name"`
	Timestamp    time.Time `json:"timestamp"`
	Size         int64     `json:"size"`
	IsDir        bool      `json:"is_dir"`
	Source       string    `json:"source"`
}

// Trash interposes on deletes, moving targets into a recoverable
// per-instance directory instead of unlinking them.
type Trash struct {
	bytesDir string // holds moved file/directory bytes under <id>
	metaDir  string // holds sibling JSON metadata under <id>.json
}

// NewTrash ensures the bytes and metadata directories exist under dir.
func NewTrash(dir string) (*Trash, error) {
	bytesDir := filepath.Join(dir, "files")
	metaDir := filepath.Join(dir, "meta")
	if err := os.MkdirAll(bytesDir, 0700); err != nil {
		return nil, fmt.Errorf("sandboxfs: create trash bytes dir: %w", err)
	}
	if err := os.MkdirAll(metaDir, 0700); err != nil {
		return nil, fmt.Errorf("sandboxfs: create trash meta dir: %w", err)
	}
	return &Trash{bytesDir: bytesDir, metaDir: metaDir}, nil
}

// IsSystemPath reports whether path matches one of the special system
// directories whose deletes the rm/rmdir wrappers do not route to trash.
func IsSystemPath(path string) bool {
	for _, p := range systemPaths {
		if path == p || hasPathPrefix(path, p) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == filepath.Separator
}

// Delete moves absPath into the trash, recording metadata next to the
// moved bytes. It never removes anything permanently.
func (t *Trash) Delete(absPath, source string) (*Entry, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("sandboxfs: stat %s: %w", absPath, err)
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		OriginalPath: absPath,
		DisplayName:  filepath.Base(absPath),
		Timestamp:    time.Now(),
		Size:         info.Size(),
		IsDir:        info.IsDir(),
		Source:       source,
	}

	dest := filepath.Join(t.bytesDir, entry.ID)
	if err := os.Rename(absPath, dest); err != nil {
		return nil, fmt.Errorf("sandboxfs: move %s to trash: %w", absPath, err)
	}

	if err := t.writeMetadata(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (t *Trash) writeMetadata(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("sandboxfs: marshal trash metadata: %w", err)
	}
	path := filepath.Join(t.metaDir, entry.ID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("sandboxfs: write trash metadata: %w", err)
	}
	return nil
}

// List returns every trash entry whose bytes and metadata both exist.
func (t *Trash) List() ([]Entry, error) {
	files, err := os.ReadDir(t.metaDir)
	if err != nil {
		return nil, fmt.Errorf("sandboxfs: list trash metadata: %w", err)
	}

	var out []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		id := fileNameWithoutExt(f.Name())
		entry, err := t.readMetadata(id)
		if err != nil {
			continue
		}
		if _, err := os.Lstat(filepath.Join(t.bytesDir, id)); err != nil {
			continue // bytes missing: metadata orphan, skip
		}
		out = append(out, *entry)
	}
	return out, nil
}

func fileNameWithoutExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func (t *Trash) readMetadata(id string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(t.metaDir, id+".json"))
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("sandboxfs: unmarshal trash metadata %s: %w", id, err)
	}
	return &entry, nil
}

// Restore moves a trash entry back to its original path, refusing to
// overwrite an existing file there.
func (t *Trash) Restore(id string) error {
	entry, err := t.readMetadata(id)
	if errors.Is(err, os.ErrNotExist) {
		return ErrTrashEntryNotFound
	}
	if err != nil {
		return err
	}

	if _, err := os.Lstat(entry.OriginalPath); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, entry.OriginalPath)
	}

	src := filepath.Join(t.bytesDir, id)
	if err := os.MkdirAll(filepath.Dir(entry.OriginalPath), 0755); err != nil {
		return fmt.Errorf("sandboxfs: create restore parent: %w", err)
	}
	if err := os.Rename(src, entry.OriginalPath); err != nil {
		return fmt.Errorf("sandboxfs: restore %s: %w", id, err)
	}
	return os.Remove(filepath.Join(t.metaDir, id+".json"))
}

// Purge permanently deletes a single trash entry.
func (t *Trash) Purge(id string) error {
	if err := os.RemoveAll(filepath.Join(t.bytesDir, id)); err != nil {
		return fmt.Errorf("sandboxfs: purge bytes %s: %w", id, err)
	}
	if err := os.Remove(filepath.Join(t.metaDir, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sandboxfs: purge metadata %s: %w", id, err)
	}
	return nil
}

// EmptyAll permanently deletes every trash entry.
func (t *Trash) EmptyAll() error {
	entries, err := t.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := t.Purge(e.ID); err != nil {
			return err
		}
	}
	return nil
}
