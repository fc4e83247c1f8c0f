package resultcache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"cw/internal/services"
)

const fileSuffix = ".jsonl.zst"

// Cache stores completed query result sets as zstd-compressed JSON lines,
// one file per run.
type Cache struct {
	dir string
}

// Open prepares the cache directory.
func Open(dir string) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrValidation, "resultcache", "open", "cache directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStore, "resultcache", "open", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file that holds the rows of runID. Run ids are used as
// file names verbatim, so an id with characters outside [A-Za-z0-9._-], or
// one that is only dots, is rejected rather than rewritten into a name
// another run could share.
func (c *Cache) Path(runID string) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, runID+fileSuffix), nil
}

// Put replaces the cached rows of runID. The file is written under a
// temporary name and renamed into place, so readers never see a partial set.
func (c *Cache) Put(runID string, rows []services.Row) error {
	path, err := c.Path(runID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".pending-*")
	if err != nil {
		return services.Wrap(services.ErrStore, "resultcache", "put", "create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := writeRows(tmp, rows); err != nil {
		_ = tmp.Close()
		return services.Wrap(services.ErrStore, "resultcache", "put", "run "+runID, err)
	}
	if err := tmp.Close(); err != nil {
		return services.Wrap(services.ErrStore, "resultcache", "put", "close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return services.Wrap(services.ErrStore, "resultcache", "put", "rename into place", err)
	}
	return nil
}

// Get loads the cached rows of runID. A run with no cached file yields
// ErrNotFound.
func (c *Cache) Get(runID string) ([]services.Row, error) {
	path, err := c.Path(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "resultcache", "get", "no cached results for run "+runID, nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "resultcache", "get", "run "+runID, err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "resultcache", "get", "run "+runID, err)
	}
	return rows, nil
}

// Has reports whether rows are cached for runID.
func (c *Cache) Has(runID string) bool {
	path, err := c.Path(runID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove drops the cached rows of runID. Removing a missing entry is not an
// error.
func (c *Cache) Remove(runID string) error {
	path, err := c.Path(runID)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrStore, "resultcache", "remove", "run "+runID, err)
	}
	return nil
}

func writeRows(w io.Writer, rows []services.Row) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	jsonEnc := json.NewEncoder(enc)
	for i, row := range rows {
		if row == nil {
			row = services.Row{}
		}
		if err := jsonEnc.Encode(row); err != nil {
			_ = enc.Close()
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	return enc.Close()
}

func readRows(r io.Reader) ([]services.Row, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var rows []services.Row
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row services.Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func validateRunID(runID string) error {
	if runID == "" {
		return services.Wrap(services.ErrValidation, "resultcache", "path", "run id is required", nil)
	}
	if strings.Trim(runID, ".") == "" {
		return services.Wrap(services.ErrValidation, "resultcache", "path", fmt.Sprintf("run id %q is not a usable file name", runID), nil)
	}
	for _, r := range runID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return services.Wrap(services.ErrValidation, "resultcache", "path", fmt.Sprintf("run id %q contains %q", runID, r), nil)
		}
	}
	return nil
}
