package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5gconnect/charmd/internal/log"
	"github.com/5gconnect/charmd/internal/testutil"
)

func TestPath(t *testing.T) {
	tests := []struct {
		name     string
		unitName string
		expected string
	}{
		{
			name:     "plain service",
			unitName: "rx",
			expected: "/test/units/rx.service",
		},
		{
			name:     "dotted service",
			unitName: "ue.digital-entity",
			expected: "/test/units/ue.digital-entity.service",
		},
		{
			name:     "template instance",
			unitName: "proxy@1",
			expected: "/test/units/proxy@1.service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore("/test/units", log.Nop())
			assert.Equal(t, tt.expected, store.Path(tt.unitName))
		})
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	provider := testutil.NewMockConfig(t, testutil.WithUnitDir("/test/custom/units"))
	store := NewStoreFromConfig(provider, log.Nop())

	assert.Equal(t, "/test/custom/units", store.Dir())
	assert.Equal(t, "/test/custom/units/discovery.service", store.Path("discovery"))
}

func TestHasChanged(t *testing.T) {
	tests := []struct {
		name       string
		existing   string
		newContent string
		fileExists bool
		expected   bool
	}{
		{
			name:       "file doesn't exist",
			newContent: "new content",
			expected:   true,
		},
		{
			name:       "content unchanged",
			existing:   "same content",
			newContent: "same content",
			fileExists: true,
			expected:   false,
		},
		{
			name:       "content changed",
			existing:   "old content",
			newContent: "new content",
			fileExists: true,
			expected:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir, testutil.NewTestLogger(t))

			if tt.fileExists {
				require.NoError(t, os.WriteFile(store.Path("rx"), []byte(tt.existing), 0600))
			}

			assert.Equal(t, tt.expected, store.HasChanged("rx", []byte(tt.newContent)))
		})
	}
}

func TestWrite(t *testing.T) {
	t.Run("creates directory and file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "units")
		store := NewStore(dir, log.Nop())

		require.NoError(t, store.Write("rx", []byte("[Service]\nExecStart=npm run start\n")))

		content, err := os.ReadFile(filepath.Join(dir, "rx.service"))
		require.NoError(t, err)
		assert.Equal(t, "[Service]\nExecStart=npm run start\n", string(content))

		info, err := os.Stat(store.Path("rx"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
	})

	t.Run("replaces existing content without leftovers", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir, log.Nop())

		require.NoError(t, store.Write("rx", []byte("old")))
		require.NoError(t, store.Write("rx", []byte("new")))

		content, err := store.Read("rx")
		require.NoError(t, err)
		assert.Equal(t, "new", string(content))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1, "no temporary files may remain")
		assert.Equal(t, "rx.service", entries[0].Name())
	})
}

func TestReadMissing(t *testing.T) {
	store := NewStore(t.TempDir(), log.Nop())
	_, err := store.Read("absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemove(t *testing.T) {
	store := NewStore(t.TempDir(), log.Nop())

	require.NoError(t, store.Write("rx", []byte("content")))
	require.NoError(t, store.Remove("rx"))
	_, err := os.Stat(store.Path("rx"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, store.Remove("rx"), "removing a missing unit is not an error")
}

func TestContentHash(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty content",
			content:  "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "simple content",
			content:  "hello world",
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContentHash([]byte(tt.content)))
		})
	}
}
