package ledger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/contractscan/pkg/ledger"
)

func manifest(output string) ledger.Manifest {
	return ledger.Manifest{
		Table:       "contracts_analysis",
		Batch:       "00000000_00000099",
		Output:      output,
		StartBlock:  0,
		EndBlock:    99,
		Rows:        3,
		Errors:      1,
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseLedger checks the contract every implementation must satisfy.
func exerciseLedger(t *testing.T, l ledger.Ledger, m ledger.Manifest) {
	t.Helper()

	ctx := context.Background()

	done, err := l.Completed(ctx, m.Key())
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, l.MarkComplete(ctx, m))

	done, err = l.Completed(ctx, m.Key())
	require.NoError(t, err)
	assert.True(t, done)

	// Marking again replaces the manifest.
	m.Rows++
	require.NoError(t, l.MarkComplete(ctx, m))

	other := m.Key()
	other.Batch = "00000100_00000199"
	other.Output = filepath.Join(filepath.Dir(m.Output), "other.csv")

	done, err = l.Completed(ctx, other)
	require.NoError(t, err)
	assert.False(t, done)

	// The same batch written under another output root is a different output.
	moved := m.Key()
	moved.Output = filepath.Join(filepath.Dir(m.Output), "fresh", filepath.Base(m.Output))

	done, err = l.Completed(ctx, moved)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestKey_IDIncludesOutput(t *testing.T) {
	t.Parallel()

	plain := ledger.Key{Table: "contracts_analysis", Batch: "00000000_00000099", Output: "/a/out.csv"}
	compressed := plain
	compressed.Output = "/a/out.csv.lz4"
	moved := plain
	moved.Output = "/b/out.csv"

	assert.Equal(t, "contracts_analysis/00000000_00000099@/a/out.csv", plain.ID())
	assert.NotEqual(t, plain.ID(), compressed.ID())
	assert.NotEqual(t, plain.ID(), moved.ID())
}

func TestFile_Contract(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "contracts_analysis_00000000_00000099.csv")
	exerciseLedger(t, ledger.NewFile(), manifest(out))
}

func TestFile_ManifestNextToOutput(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "out.csv")
	fl := ledger.NewFile()

	require.NoError(t, fl.MarkComplete(context.Background(), manifest(out)))

	assert.Equal(t, out+".manifest.yaml", fl.ManifestPath(out))
	assert.FileExists(t, out+".manifest.yaml")

	loaded, err := fl.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Rows)
	assert.Equal(t, int64(99), loaded.EndBlock)
	assert.True(t, loaded.CompletedAt.Equal(manifest(out).CompletedAt))
}

func TestOpen_FileByDefault(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "file"} {
		l, err := ledger.Open(context.Background(), raw, nil)
		require.NoError(t, err)
		assert.IsType(t, &ledger.File{}, l)
		require.NoError(t, l.Close())
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	t.Parallel()

	_, err := ledger.Open(context.Background(), "postgres://localhost/db", nil)
	require.ErrorIs(t, err, ledger.ErrUnsupportedLedger)
}

func TestRedis_Contract(t *testing.T) {
	t.Parallel()

	url := os.Getenv("CONTRACTSCAN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CONTRACTSCAN_TEST_REDIS_URL not set")
	}

	ctx := context.Background()

	l, err := ledger.Open(ctx, url, nil)
	require.NoError(t, err)

	rl, ok := l.(*ledger.Redis)
	require.True(t, ok)

	m := manifest(filepath.Join(t.TempDir(), "out.csv"))
	m.Table = "test_" + t.Name()

	t.Cleanup(func() {
		_ = rl.Forget(ctx, m.Key())
		_ = rl.Close()
	})

	exerciseLedger(t, rl, m)
}

func TestMongo_Contract(t *testing.T) {
	t.Parallel()

	url := os.Getenv("CONTRACTSCAN_TEST_MONGO_URL")
	if url == "" {
		t.Skip("CONTRACTSCAN_TEST_MONGO_URL not set")
	}

	l, err := ledger.Open(context.Background(), url, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	m := manifest(filepath.Join(t.TempDir(), "out.csv"))
	m.Table = "test_" + t.Name() + "_" + time.Now().Format("150405.000000000")

	exerciseLedger(t, l, m)
}
