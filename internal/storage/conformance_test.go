package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danieldreier/adaptive-srs/internal/storage"
	"github.com/danieldreier/adaptive-srs/internal/storage/storagetest"
)

func TestFileStorageConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		fs := storage.NewFileStorage(filepath.Join(t.TempDir(), "srs.json"), zaptest.NewLogger(t))
		require.NoError(t, fs.Load())
		return fs
	})
}
