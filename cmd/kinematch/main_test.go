package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const bakeConfig = `
sub_quantizers: 2
num_bits: 3
training:
  num_attempts: 1
  num_iterations: 4
  minimum_number_samples: 1
  maximum_number_samples: 16
compression: lz4
`

// writeDatabase writes a two segment YAML database with 40 frames each.
func writeDatabase(t *testing.T, dir string) string {
	t.Helper()
	rng := testutil.NewRNG(11)
	features := rng.ClusteredVectors(80, 4, 4, 0.05)

	file := fragment.File{SampleRate: 30}
	for s, tag := range []string{"walk", "run"} {
		seg := fragment.FileSegment{Name: tag, Tags: []string{tag}}
		for f := 0; f < 40; f++ {
			seg.Frames = append(seg.Frames, fragment.FileFrame{
				Root:     fragment.FileTransform{Position: [3]float64{0, 0, float64(f) / 30}},
				Features: features[s*40+f],
			})
		}
		file.Segments = append(file.Segments, seg)
	}

	data, err := yaml.Marshal(file)
	require.NoError(t, err)
	path := filepath.Join(dir, "db.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBakeInspectMatch(t *testing.T) {
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "assets")
	dbPath := writeDatabase(t, dir)
	cfgPath := filepath.Join(dir, "bake.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(bakeConfig), 0o600))

	out, err := run(t, "--store", storeDir, "bake", "--config", cfgPath, dbPath, "walk.kma")
	require.NoError(t, err, out)
	assert.Contains(t, out, "baked walk.kma")
	assert.Contains(t, out, "80 (80 valid)")

	out, err = run(t, "--store", storeDir, "list")
	require.NoError(t, err)
	assert.Equal(t, "walk.kma\n", out)

	out, err = run(t, "--store", storeDir, "inspect", "--json", "walk.kma")
	require.NoError(t, err, out)
	var info assetInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "walk.kma", info.Name)
	assert.Equal(t, "lz4", info.Compression)
	assert.Equal(t, 80, info.Fragments)
	assert.Equal(t, 4, info.Dimension)
	assert.Equal(t, 2, info.SubQuantizers)
	assert.Equal(t, 3, info.NumBits)
	assert.Equal(t, 2, info.CodeSize)
	assert.True(t, info.Normalized)

	out, err = run(t, "--store", storeDir, "match", "--json", "--fragment", "5", "-k", "3", "--tag", "run", dbPath, "walk.kma")
	require.NoError(t, err, out)
	var res matchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Accepted)
	assert.Equal(t, 40, res.Evaluated)
	assert.Equal(t, 1, res.Best.Segment)
	require.Len(t, res.Candidates, 3)
	for _, c := range res.Candidates {
		assert.Equal(t, 1, c.Segment)
	}
}

func TestMatch_RequiresQuery(t *testing.T) {
	dir := t.TempDir()
	dbPath := writeDatabase(t, dir)

	_, err := run(t, "--store", dir, "match", dbPath, "missing.kma")
	assert.ErrorContains(t, err, "--fragment or --features")

	_, err = run(t, "--store", dir, "match", "--fragment", "999", dbPath, "missing.kma")
	assert.ErrorContains(t, err, "out of range")

	_, err = run(t, "--store", dir, "match", "--features", "1,x", dbPath, "missing.kma")
	assert.ErrorContains(t, err, "invalid feature")
}

func TestBake_InvalidFlags(t *testing.T) {
	dir := t.TempDir()
	dbPath := writeDatabase(t, dir)

	_, err := run(t, "--store", dir, "bake", "--compression", "brotli", dbPath, "x.kma")
	assert.Error(t, err)

	_, err = run(t, "--store", dir, "--log-level", "loud", "bake", dbPath, "x.kma")
	assert.ErrorContains(t, err, "invalid log level")

	_, err = run(t, "--store", dir, "bake", dbPath)
	assert.Error(t, err)
}

func TestParseStore(t *testing.T) {
	ctx := context.Background()

	store, remote, err := parseStore(ctx, t.TempDir(), "")
	require.NoError(t, err)
	assert.False(t, remote)
	assert.IsType(t, &blobstore.LocalStore{}, store)

	_, _, err = parseStore(ctx, "s3://", "")
	assert.Error(t, err)

	_, _, err = parseStore(ctx, "minio://localhost:9000", "")
	assert.Error(t, err)

	store, remote, err = parseStore(ctx, "minio://localhost:9000/assets/motion", "")
	require.NoError(t, err)
	assert.True(t, remote)
	assert.NotNil(t, store)
}

func TestSplitBucket(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"assets", "assets", ""},
		{"assets/", "assets", ""},
		{"assets/motion", "assets", "motion/"},
		{"assets/motion/v2/", "assets", "motion/v2/"},
	}
	for _, tt := range tests {
		bucket, prefix := splitBucket(tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.prefix, prefix, tt.in)
	}
}

func TestParseFeatures(t *testing.T) {
	v, err := parseFeatures("1, -2.5,3")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2.5, 3}, v)
}
