// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const filePermission = 0o600

// WriteConfigFile writes an aitbus configuration into dir and returns its path.
func WriteConfigFile(t testing.TB, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "aitbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), filePermission))

	return path
}

func RemoveFileWithErrorCheck(t testing.TB, fileName string) {
	t.Helper()

	err := os.Remove(fileName)

	require.NoError(t, err)
}
