package verticle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/itsmostafa/goverticle/internal/engine"
)

// Loader resolves a verticle name to its source. Missing names yield an
// error matching ErrResourceNotFound.
type Loader = engine.SourceLoader

// DefaultMaxFileSize caps script sources read by a DirLoader.
const DefaultMaxFileSize = 1024 * 1024

// DirLoader reads scripts from a directory tree.
type DirLoader struct {
	// Root is the directory names are resolved against.
	Root string

	// MaxFileSize is the largest source accepted, in bytes.
	MaxFileSize int64
}

// NewDirLoader creates a DirLoader rooted at root with default settings.
func NewDirLoader(root string) (*DirLoader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	return &DirLoader{Root: abs, MaxFileSize: DefaultMaxFileSize}, nil
}

// resolvePath maps a slash-separated name into Root. Names that would
// escape Root are rejected.
func (d *DirLoader) resolvePath(name string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(name))
	if clean == "/" {
		return "", fmt.Errorf("%w: empty name", ErrResourceNotFound)
	}
	resolved := filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	rel, err := filepath.Rel(d.Root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrResourceNotFound, name, d.Root)
	}
	return resolved, nil
}

// Load reads name relative to Root.
func (d *DirLoader) Load(name string) ([]byte, error) {
	resolved, err := d.resolvePath(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrResourceNotFound, name)
	}
	if d.MaxFileSize > 0 && info.Size() > d.MaxFileSize {
		return nil, fmt.Errorf("%s: %d bytes exceeds limit of %d", name, info.Size(), d.MaxFileSize)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// MapLoader serves sources from memory. Keys are slash-separated names.
type MapLoader map[string]string

func (m MapLoader) Load(name string) ([]byte, error) {
	src, ok := m[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	return []byte(src), nil
}

// FSLoader serves sources from an fs.FS, such as an embed.FS.
type FSLoader struct {
	FS fs.FS
}

func (l FSLoader) Load(name string) ([]byte, error) {
	p := path.Clean(strings.TrimPrefix(name, "/"))
	info, err := fs.Stat(l.FS, p)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(l.FS, p)
}
