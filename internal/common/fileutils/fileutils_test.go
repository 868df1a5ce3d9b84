package fileutils_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/ais-insights/internal/common/fileutils"
	"github.com/ubuntu/ais-insights/internal/common/testutils"
)

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data         []byte
		fileExists   bool
		readOnlyDir  bool
		parentAbsent bool

		wantErr bool
	}{
		"Empty file":              {data: []byte{}},
		"Non-empty file":          {data: []byte("data")},
		"Override file":           {data: []byte("data"), fileExists: true},
		"Override empty file":     {data: []byte{}, fileExists: true},
		"Missing parent dir":      {data: []byte("data"), parentAbsent: true, wantErr: true},
		"Read-only parent errors": {data: []byte("data"), readOnlyDir: true, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.readOnlyDir && (runtime.GOOS == "windows" || os.Geteuid() == 0) {
				t.Skip("Permissions are not enforced for this user or platform")
			}

			dir := t.TempDir()
			if tc.parentAbsent {
				dir = filepath.Join(dir, "absent")
			}
			path := filepath.Join(dir, "file.json")

			oldData := []byte("old data")
			if tc.fileExists {
				require.NoError(t, os.WriteFile(path, oldData, 0600), "Setup: could not write existing file")
			}
			if tc.readOnlyDir {
				testutils.MakeReadOnly(t, dir)
			}

			err := fileutils.AtomicWrite(path, tc.data, 0640)
			if tc.wantErr {
				require.Error(t, err, "AtomicWrite should have failed")
				if tc.fileExists {
					got, err := os.ReadFile(path)
					require.NoError(t, err, "Previous file should still be readable")
					assert.Equal(t, oldData, got, "Previous content should be untouched on failure")
				}
				return
			}
			require.NoError(t, err, "AtomicWrite should not fail")

			got, err := os.ReadFile(path)
			require.NoError(t, err, "Written file should be readable")
			assert.Equal(t, tc.data, got, "Unexpected file content")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err, "Directory should be readable")
			assert.Len(t, entries, 1, "No temporary file should be left behind")
		})
	}
}
