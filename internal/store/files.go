package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
)

// sqliteHeader starts every valid SQLite database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// sidecarSuffixes are files SQLite keeps next to the database.
var sidecarSuffixes = []string{"-wal", "-shm"}

// MoveAside renames a broken database file and its sidecars out of the way
// so a fresh database can be created at path. It returns the new name of
// the main file. A missing file is not an error.
func MoveAside(fs afero.Fs, path string, now time.Time) (string, error) {
	suffix := ".corrupt." + now.UTC().Format("2006-01-02T15:04:05.000000Z")
	dest := path + suffix

	if err := fs.Rename(path, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("move %s aside: %w", path, err)
	}
	for _, sc := range sidecarSuffixes {
		if err := fs.Rename(path+sc, dest+sc); err != nil && !errors.Is(err, os.ErrNotExist) {
			return dest, fmt.Errorf("move %s aside: %w", path+sc, err)
		}
	}
	return dest, nil
}

// ValidFile reports whether path is absent, empty, or starts with the SQLite
// header. Anything else cannot be opened as a database.
func ValidFile(fs afero.Fs, path string) (bool, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	n, err := io.ReadFull(f, header)
	switch {
	case n == 0 && (err == io.EOF || err == nil):
		return true, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return false, nil
	case err != nil:
		return false, err
	}
	return bytes.Equal(header, sqliteHeader), nil
}

// FileSize returns the combined size of the database file and its sidecars.
func FileSize(fs afero.Fs, path string) (int64, error) {
	var total int64
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		info, err := fs.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
