package skills

import (
	"fmt"
	"os"
	"path/filepath"
)

// CAS is the content-addressable store backing the skills directory:
// entries live under casDir/<sha256>, and human-readable names in
// skillsDir are symlinks pointing at them.
type CAS struct {
	skillsDir string
	casDir    string
}

// NewCAS returns a CAS rooted at skillsDir with entries under casDir
// (by convention skillsDir/.cas).
func NewCAS(skillsDir, casDir string) (*CAS, error) {
	if err := os.MkdirAll(skillsDir, 0755); err != nil {
		return nil, fmt.Errorf("skills: create skills dir: %w", err)
	}
	if err := os.MkdirAll(casDir, 0755); err != nil {
		return nil, fmt.Errorf("skills: create cas dir: %w", err)
	}
	return &CAS{skillsDir: skillsDir, casDir: casDir}, nil
}

func (c *CAS) entryPath(hash string) string {
	return filepath.Join(c.casDir, hash)
}

func (c *CAS) symlinkPath(name string) string {
	return filepath.Join(c.skillsDir, name)
}

// Store moves stagedDir into the CAS keyed by hash, unless an entry
// already exists for that hash — in which case the staged copy is
// dropped, deduplicating identical imports. Either way, name's symlink
// is (re)pointed at the CAS entry.
func (c *CAS) Store(stagedDir, hash, name string) error {
	entry := c.entryPath(hash)

	if _, err := os.Lstat(entry); os.IsNotExist(err) {
		if err := os.Rename(stagedDir, entry); err != nil {
			return fmt.Errorf("skills: move staged skill into cas: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("skills: stat cas entry %s: %w", hash, err)
	} else {
		if err := os.RemoveAll(stagedDir); err != nil {
			return fmt.Errorf("skills: remove duplicate staged skill: %w", err)
		}
	}

	return c.Link(name, hash)
}

// Link points name's symlink at the CAS entry for hash, replacing any
// existing symlink atomically (write-to-temp-then-rename).
func (c *CAS) Link(name, hash string) error {
	target := c.entryPath(hash)
	link := c.symlinkPath(name)

	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("skills: create symlink for %s: %w", name, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		return fmt.Errorf("skills: activate symlink for %s: %w", name, err)
	}
	return nil
}

// Unlink removes a skill's human-readable symlink; the CAS entry
// itself is retained until GC runs.
func (c *CAS) Unlink(name string) error {
	if err := os.Remove(c.symlinkPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("skills: unlink %s: %w", name, err)
	}
	return nil
}

// Resolve returns the CAS entry path that name's symlink points to.
func (c *CAS) Resolve(name string) (string, error) {
	return filepath.EvalSymlinks(c.symlinkPath(name))
}

// ListLinks returns every human-readable name currently symlinked in
// the skills directory.
func (c *CAS) ListLinks() ([]string, error) {
	entries, err := os.ReadDir(c.skillsDir)
	if err != nil {
		return nil, fmt.Errorf("skills: list skills dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() == ".cas" {
			continue
		}
		info, err := os.Lstat(filepath.Join(c.skillsDir, e.Name()))
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// GC removes every CAS entry not referenced by any symlink in the
// skills directory.
func (c *CAS) GC() (removed int, err error) {
	names, err := c.ListLinks()
	if err != nil {
		return 0, err
	}

	referenced := make(map[string]bool)
	for _, name := range names {
		target, resolveErr := c.Resolve(name)
		if resolveErr != nil {
			continue
		}
		referenced[filepath.Base(target)] = true
	}

	entries, err := os.ReadDir(c.casDir)
	if err != nil {
		return 0, fmt.Errorf("skills: read cas dir: %w", err)
	}
	for _, e := range entries {
		if referenced[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.casDir, e.Name())); err != nil {
			return removed, fmt.Errorf("skills: gc remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
