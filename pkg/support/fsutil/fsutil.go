// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities to handle the paths of the files read and written by imcombine.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrExists is returned by CheckOutput when the output file already exists.
var ErrExists = errors.New("output file already exists")

// FileExists returns whether the file or directory exists, or an error if the file system failed
// to tell.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}

// ExpandHome replaces a leading "~" (current user) or "~name" (user name) by the home directory.
// Other paths are returned unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var (
		usr *user.User
		err error
	)
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to find the home directory for %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// ExpandAll applies ExpandHome to all paths, and returns the expanded copy.
func ExpandAll(paths []string) ([]string, error) {
	expanded := make([]string, len(paths))
	for i, path := range paths {
		var err error
		expanded[i], err = ExpandHome(path)
		if err != nil {
			return nil, err
		}
	}
	return expanded, nil
}

// CheckOutput returns an error if the output path can't be written: ErrExists if it exists and
// overwrite is false, or a plain error if its directory doesn't exist.
func CheckOutput(path string, overwrite bool) error {
	exists, err := FileExists(path)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return errors.Wrapf(ErrExists, "%q", path)
	}
	dir := filepath.Dir(path)
	exists, err = FileExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Errorf("directory %q of output file %q doesn't exist", dir, path)
	}
	return nil
}
