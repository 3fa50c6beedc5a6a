//go:build !windows

// Package fileutil creates files and directories readable only by the
// current user. On Unix the permission bits are the whole story; on Windows
// a DACL granting access to the current user alone is applied as well.
package fileutil

func restrict(path string) error { return nil }
