package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnce_RemovesOnlyStaleEntries(t *testing.T) {
	root := t.TempDir()

	stale := filepath.Join(root, "build-old")
	fresh := filepath.Join(root, "build-new")
	require.NoError(t, os.Mkdir(stale, 0o755))
	require.NoError(t, os.Mkdir(fresh, 0o755))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	w := NewWorkDirSweeper(root, 24*time.Hour, time.Hour, nil)
	w.sweepOnce()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestSweepOnce_MissingRootIsNotAnError(t *testing.T) {
	w := NewWorkDirSweeper(filepath.Join(t.TempDir(), "does-not-exist"), time.Hour, time.Hour, nil)
	w.sweepOnce() // must not panic
}
