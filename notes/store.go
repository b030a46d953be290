package notes

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pevans/cpexport/naming"
)

// Store saves notes as Markdown files in a single directory.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates a store rooted at root. The directory is created on the
// first save.
func NewStore(root string) *Store {
	return &Store{
		root: root,
		now:  time.Now,
	}
}

// Save writes content to <root>/<sanitized name>.md and returns the path.
// An existing note is never overwritten: on collision the save is retried
// once with "-<unix millis>" appended to the name. A second collision is an
// error.
func (s *Store) Save(name, content string) (string, error) {
	// Create the root directory if it doesn't exist
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create notes directory: %w", err)
	}

	base := naming.Sanitize(name)
	path := filepath.Join(s.root, base+".md")
	err := writeNew(path, content)
	if errors.Is(err, fs.ErrExist) {
		path = filepath.Join(s.root, fmt.Sprintf("%s-%d.md", base, s.now().UnixMilli()))
		err = writeNew(path, content)
	}
	if err != nil {
		return "", err
	}

	return path, nil
}

// writeNew creates path exclusively and writes content to it.
func writeNew(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write note: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close note: %w", err)
	}

	return nil
}
