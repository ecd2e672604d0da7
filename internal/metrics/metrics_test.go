package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIsIdempotent(t *testing.T) {
	a := Registry()
	b := Registry()
	assert.Same(t, a, b)
}

func TestWriteTextfile(t *testing.T) {
	Registry()
	BuildsTotal.WithLabelValues("persisted").Inc()

	path := filepath.Join(t.TempDir(), "newsrag.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "newsrag_builds_total")
	assert.GreaterOrEqual(t, testutil.ToFloat64(BuildsTotal.WithLabelValues("persisted")), 1.0)
}
