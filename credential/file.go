package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	portal "github.com/academia-portal/portal-go"
)

const backendFile = "file"

// File persists the pair as a JSON document readable only by the owner.
// Writes go through a temporary file and a rename so a crash never leaves a
// half-written document behind.
type File struct {
	path string
	opts options
	mu   sync.Mutex
}

var _ portal.CredentialStore = (*File)(nil)

// NewFile creates a store backed by the file at path. The file and its
// parent directory are created on first Save.
func NewFile(path string, opts ...Option) *File {
	return &File{path: path, opts: buildOptions(opts)}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Save writes the pair.
func (f *File) Save(_ context.Context, creds portal.Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(creds); err != nil {
		f.opts.fail(backendFile, "save", err)
	}
}

func (f *File) write(creds portal.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Load reads the pair. A missing, unreadable or corrupt file reports nil.
func (f *File) Load(_ context.Context) *portal.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.opts.fail(backendFile, "load", err)
		}
		return nil
	}
	var creds portal.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		f.opts.fail(backendFile, "load", fmt.Errorf("decode: %w", err))
		return nil
	}
	if !usable(&creds) {
		return nil
	}
	return &creds
}

// Clear removes the file.
func (f *File) Clear(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.opts.fail(backendFile, "clear", err)
	}
}
