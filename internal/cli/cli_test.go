package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazypower/affinity/internal/cache"
	"github.com/lazypower/affinity/internal/engine"
	"github.com/lazypower/affinity/internal/store"
)

const feed = `{"id":1,"type":"project","title":"Les Terrasses du Rhône","status":"publish","show_in_graph":true,"categories":[4,9],"meta":{"client":"Ville de Lyon"}}
{"id":2,"type":"project","title":"Quai Perrache","status":"publish","show_in_graph":true,"categories":[9,4],"meta":{"client":"ville de lyon"}}
{"id":3,"type":"article","title":"Notes de chantier","status":"publish","show_in_graph":true,"manual_links":[1]}
this line is not json`

// run executes the command line against dbPath and returns its output.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	sweepAll, sweepSize, importNoRecalc = false, 0, false
	configPath, dbOverride = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--db", dbPath))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func importFeed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AFFINITY_LOG_LEVEL", "error")
	feedPath := filepath.Join(dir, "feed.jsonl")
	require.NoError(t, os.WriteFile(feedPath, []byte(feed), 0o644))

	dbPath := filepath.Join(dir, "affinity.db")
	out, err := run(t, dbPath, "import", feedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "skip line 4")
	assert.Contains(t, out, "imported 3 items (3 new, 1 skipped lines)")
	assert.Contains(t, out, "3 items processed, 4 links created")
	return dbPath
}

func TestImportAndInspect(t *testing.T) {
	dbPath := importFeed(t)

	out, err := run(t, dbPath, "links", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1. 2 Quai Perrache")
	// The curated link from 3 counts for the pair in both directions.
	assert.Contains(t, out, "2. 3 Notes de chantier")

	out, err = run(t, dbPath, "links", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "1. 1 Les Terrasses du Rhône")

	out, err = run(t, dbPath, "stats", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "item 3 [scored]: 1 auto, 1 manual, 1 total")

	out, err = run(t, dbPath, "score", "1", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "1 <-> 2: 125 (very-strong)")
	assert.Contains(t, out, "shared_categories")
}

func TestRecalcAndSweep(t *testing.T) {
	dbPath := importFeed(t)

	out, err := run(t, dbPath, "recalc", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "item 2: 1 auto links from 2 candidates, 0 manual links kept")

	out, err = run(t, dbPath, "recalc", "99")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")

	out, err = run(t, dbPath, "sweep", "--size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "(batch): 2 items processed")

	out, err = run(t, dbPath, "sweep", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "(all): 3 items processed, 4 links created")
}

func TestDeleteScrubsLinks(t *testing.T) {
	dbPath := importFeed(t)

	out, err := run(t, dbPath, "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "item 1 deleted")

	out, err = run(t, dbPath, "links", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "item 2 has no links")

	out, err = run(t, dbPath, "links", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "item 3 has no links")
}

func TestDeleteInvalidatesRunningServerCache(t *testing.T) {
	dbPath := importFeed(t)
	ctx := context.Background()

	// a long-lived server process with its own view cache
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	mem := cache.NewMemory(16, time.Hour)
	defer mem.Close()
	server := engine.NewFromDB(db, mem, zap.NewNop(), nil, engine.DefaultOptions())

	g, err := server.GraphView(ctx)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)

	_, err = run(t, dbPath, "delete", "1")
	require.NoError(t, err)

	g, err = server.GraphView(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	for _, l := range g.Links {
		assert.NotEqual(t, int64(1), l.Source)
		assert.NotEqual(t, int64(1), l.Target)
	}
}

func TestBadArguments(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "affinity.db")

	_, err := run(t, dbPath, "recalc", "abc")
	assert.Error(t, err)

	_, err = run(t, dbPath, "score", "1")
	assert.Error(t, err)

	_, err = run(t, dbPath, "import", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "affinity.db"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "affinity dev")
}
