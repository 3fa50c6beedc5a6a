package fileutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

const (
	dirPerm  os.FileMode = 0o700
	filePerm os.FileMode = 0o600
)

// ErrExists is returned by WritePrivate when the target already exists.
var ErrExists = errors.New("file already exists")

// MkdirPrivate creates dir and any missing parents with owner-only access.
// An existing directory keeps its mode.
func MkdirPrivate(dir string) error {
	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	if os.IsNotExist(statErr) {
		warn(dir, restrict(dir))
	}
	return nil
}

// RestrictFile narrows an existing file to owner-only access. A missing
// file is not an error.
func RestrictFile(path string) error {
	if err := os.Chmod(path, filePerm); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	warn(path, restrict(path))
	return nil
}

// WritePrivate creates path with owner-only access and writes data to it.
// It refuses to replace an existing file.
func WritePrivate(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if os.IsExist(err) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	if err != nil {
		return err
	}
	warn(path, restrict(path))
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ACL failures leave the Unix mode in place, so they are only logged.
func warn(path string, err error) {
	if err != nil {
		slog.Warn("could not restrict access", "path", path, "error", err)
	}
}
