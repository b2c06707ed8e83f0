package core

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/oneconcern/castor/internal/rand"
	"github.com/oneconcern/castor/pkg/compress"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/oneconcern/castor/pkg/errors"
	"github.com/oneconcern/castor/pkg/hash"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/metrics"
	"github.com/oneconcern/castor/pkg/registry"
	"github.com/oneconcern/castor/pkg/source"
	"github.com/oneconcern/castor/pkg/source/localfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArtifact = "app"

type testFile struct {
	path       string
	content    string
	executable bool
}

var testFiles = []testFile{
	{path: "a.txt", content: "hello"},
	{path: "bin/run.sh", content: "#!/bin/sh\necho run\n", executable: true},
	{path: "copy.txt", content: "hello"},
	{path: "sub/dir/b.txt", content: "world"},
}

type fixture struct {
	root  string
	input string
	repo  string
	store Store
}

func newFixture(t testing.TB, files []testFile) fixture {
	root := t.TempDir()
	f := fixture{
		root:  root,
		input: filepath.Join(root, "input"),
		repo:  filepath.Join(root, "repo"),
	}
	writeInput(t, f.input, files)

	fs := afero.NewOsFs()
	require.NoError(t, layout.CreateRepo(fs, f.repo, layout.Default()))
	storePath := filepath.Join(root, "store")
	cache := filepath.Join(root, "cache")
	require.NoError(t, layout.CreateStore(fs, storePath, cache, layout.Default()))

	f.store = Store{
		Path:      storePath,
		CacheRoot: cache,
		Sources:   []source.Source{localfs.New(nil, f.repo)},
	}
	return f
}

func writeInput(t testing.TB, dir string, files []testFile) {
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, file := range files {
		p := filepath.Join(dir, filepath.FromSlash(file.path))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		perm := os.FileMode(0644)
		if file.executable {
			perm = 0755
		}
		require.NoError(t, os.WriteFile(p, []byte(file.content), perm))
		require.NoError(t, os.Chmod(p, perm))
	}
}

func countEntries(t testing.TB, dir string) int {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestBuildInstall(t *testing.T) {
	f := newFixture(t, testFiles)
	// not part of the artifact
	require.NoError(t, os.MkdirAll(filepath.Join(f.input, "empty"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(f.input, "a.txt"), filepath.Join(f.input, "link.txt")))

	mh, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)
	require.NotEmpty(t, mh)

	registered, err := registry.New(afero.NewOsFs(), filepath.Join(f.repo, "artifacts")).Get(testArtifact)
	require.NoError(t, err)
	assert.Equal(t, mh, registered)
	assert.Equal(t, 3, countEntries(t, filepath.Join(f.repo, "chunks")), "identical contents share a chunk")
	assert.FileExists(t, filepath.Join(f.repo, "manifests", mh))

	installed, err := Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)
	assert.Equal(t, mh, installed)

	tree := filepath.Join(f.store.Path, "artifacts", testArtifact)
	for _, file := range testFiles {
		content, err := os.ReadFile(filepath.Join(tree, filepath.FromSlash(file.path)))
		require.NoError(t, err, file.path)
		assert.Equal(t, file.content, string(content), file.path)

		fi, err := os.Stat(filepath.Join(tree, filepath.FromSlash(file.path)))
		require.NoError(t, err)
		assert.Equal(t, file.executable, fi.Mode()&0o111 != 0, file.path)

		target, err := os.Readlink(filepath.Join(f.store.Path, "manifests", mh, filepath.FromSlash(file.path)))
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(target), "links point to absolute chunk paths")
		assert.Equal(t, "chunks", filepath.Base(filepath.Dir(target)))
	}
	for _, excluded := range []string{"empty", "link.txt"} {
		_, err := os.Lstat(filepath.Join(tree, excluded))
		assert.True(t, os.IsNotExist(err), excluded)
	}

	assert.Equal(t, 3, countEntries(t, filepath.Join(f.store.Path, "chunks")))

	current, err := Installed(afero.NewOsFs(), f.store, testArtifact)
	require.NoError(t, err)
	assert.Equal(t, mh, current)
}

func TestBuildDeterministic(t *testing.T) {
	f := newFixture(t, testFiles)
	mh1, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	other := filepath.Join(f.root, "other-repo")
	require.NoError(t, layout.CreateRepo(afero.NewOsFs(), other, layout.Default()))
	mh2, err := Build(context.Background(), f.input, other, "another-name", Codec(compress.LZ4))
	require.NoError(t, err)
	assert.Equal(t, mh1, mh2, "the manifest hash depends on content only")

	farm, err := hash.New(hash.SchemeFarm)
	require.NoError(t, err)
	mh3, err := Build(context.Background(), f.input, other, "farm", Hasher(farm))
	require.NoError(t, err)
	assert.NotEqual(t, mh1, mh3)
}

func TestBuildEmptyInput(t *testing.T) {
	f := newFixture(t, nil)

	mh, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)
	assert.Equal(t, hash.Sum(nil), mh)

	_, err = Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)
	assert.Equal(t, 0, countEntries(t, filepath.Join(f.store.Path, "artifacts", testArtifact)))
}

func TestBuildMemFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/x", []byte("x content"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/in/y/z", []byte("z content"), 0755))
	require.NoError(t, layout.CreateRepo(fs, "/repo", layout.Default()))

	m := metrics.New(prometheus.NewRegistry())
	mh, stats, err := BuildWithStats(context.Background(), "/in", "/repo", testArtifact, Fs(fs), Metrics(m))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Chunks)
	assert.EqualValues(t, 18, stats.RawBytes)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChunksWritten))

	compressed, err := afero.ReadFile(fs, "/repo/chunks/"+hash.Sum([]byte("z content")))
	require.NoError(t, err)
	raw, err := compress.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, "z content", string(raw))

	doc, err := afero.ReadFile(fs, "/repo/manifests/"+mh)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"y/z"`)
}

func TestBuildErrors(t *testing.T) {
	f := newFixture(t, testFiles)

	_, err := Build(context.Background(), f.input, filepath.Join(f.root, "nowhere"), testArtifact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = Build(context.Background(), filepath.Join(f.root, "nothing"), f.repo, testArtifact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = Build(context.Background(), f.input, f.repo, "bad:name")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrMalformed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, f.input, f.repo, testArtifact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInstallIntegrityFailure(t *testing.T) {
	f := newFixture(t, testFiles)
	_, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	worldID := hash.Sum([]byte("world"))
	tampered, err := compress.Compress([]byte("tampered"), compress.Zstd)
	require.NoError(t, err)
	repoChunk := filepath.Join(f.repo, "chunks", worldID)
	require.NoError(t, os.WriteFile(repoChunk, tampered, 0644))

	m := metrics.New(prometheus.NewRegistry())
	_, err = Install(context.Background(), testArtifact, f.store, Metrics(m))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrIntegrity))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IntegrityFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Installs.WithLabelValues(metrics.OutcomeError)))

	assert.NoFileExists(t, filepath.Join(f.store.Path, "chunks", worldID), "a corrupted chunk is never written to the store")
	assert.NoFileExists(t, filepath.Join(f.store.CacheRoot, "chunks", worldID), "a corrupted chunk is evicted from the cache")
	_, err = os.Lstat(filepath.Join(f.store.Path, "artifacts", testArtifact))
	assert.True(t, os.IsNotExist(err), "nothing is published")

	// once the repository is repaired, a retry succeeds
	_, err = Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)
	_, err = Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)
}

func TestInstallCorruptFrame(t *testing.T) {
	f := newFixture(t, testFiles)
	_, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.repo, "chunks", hash.Sum([]byte("hello"))), []byte("garbage"), 0644))

	_, err = Install(context.Background(), testArtifact, f.store)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrIntegrity))
}

func TestInstallNotRegistered(t *testing.T) {
	f := newFixture(t, testFiles)
	_, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	_, err = Install(context.Background(), "unknown", f.store)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = Installed(afero.NewOsFs(), f.store, "unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestInstallMissingManifest(t *testing.T) {
	f := newFixture(t, testFiles)
	mh, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.repo, "manifests", mh)))

	_, err = Install(context.Background(), testArtifact, f.store)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestInstallIdempotent(t *testing.T) {
	f := newFixture(t, testFiles)
	mh, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	for i := 0; i < 2; i++ {
		installed, err := Install(context.Background(), testArtifact, f.store, Metrics(m))
		require.NoError(t, err)
		assert.Equal(t, mh, installed)
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ChunksFetched))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ChunksSkipped))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Installs.WithLabelValues(metrics.OutcomeSuccess)))

	content, err := os.ReadFile(filepath.Join(f.store.Path, "artifacts", testArtifact, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assertNoTempPointers(t, filepath.Join(f.store.Path, "artifacts"))
}

func TestInstallUpdate(t *testing.T) {
	f := newFixture(t, testFiles)
	mh1, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)
	_, err = Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)

	writeInput(t, f.input, []testFile{{path: "a.txt", content: "hello again"}})
	mh2, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)
	require.NotEqual(t, mh1, mh2)

	installed, err := Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)
	assert.Equal(t, mh2, installed, "the registry is always fetched afresh")

	content, err := os.ReadFile(filepath.Join(f.store.Path, "artifacts", testArtifact, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello again", string(content))
	assert.NoFileExists(t, filepath.Join(f.store.Path, "artifacts", testArtifact, "copy.txt"))

	// the previous tree is left in place
	assert.DirExists(t, filepath.Join(f.store.Path, "manifests", mh1))
}

func TestInstallSourceFallback(t *testing.T) {
	f := newFixture(t, testFiles)
	mh, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	emptyRepo := filepath.Join(f.root, "empty-repo")
	require.NoError(t, layout.CreateRepo(afero.NewOsFs(), emptyRepo, layout.Default()))
	f.store.Sources = append([]source.Source{localfs.New(nil, emptyRepo)}, f.store.Sources...)

	installed, err := Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)
	assert.Equal(t, mh, installed)
}

func TestInstallSharedChunkBecomesExecutable(t *testing.T) {
	f := newFixture(t, []testFile{{path: "data", content: "same"}})
	_, err := Build(context.Background(), f.input, f.repo, "plain")
	require.NoError(t, err)
	_, err = Install(context.Background(), "plain", f.store)
	require.NoError(t, err)

	writeInput(t, f.input, []testFile{{path: "tool", content: "same", executable: true}})
	_, err = Build(context.Background(), f.input, f.repo, "tool")
	require.NoError(t, err)
	_, err = Install(context.Background(), "tool", f.store)
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(f.store.Path, "artifacts", "tool", "tool"))
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&0o111)
}

func TestInstallInvalid(t *testing.T) {
	f := newFixture(t, testFiles)

	for _, name := range []string{"", "a/b", "a:b", TempPrefix + "1", ".."} {
		_, err := Install(context.Background(), name, f.store)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, status.ErrMalformed), name)
	}

	_, err := Install(context.Background(), testArtifact, f.store, Fs(afero.NewMemMapFs()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotSupported))

	missing := f.store
	missing.Path = filepath.Join(f.root, "no-store")
	_, err = Install(context.Background(), testArtifact, missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestTempPointerOverflow(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < maxTempNames; i++ {
		p := filepath.Join(dir, TempPrefix+strconv.Itoa(i))
		require.NoError(t, os.WriteFile(p, nil, 0644))
		mtime := base.Add(time.Duration(i) * time.Second)
		if i == 17 {
			mtime = base.Add(-time.Hour)
		}
		require.NoError(t, os.Chtimes(p, mtime, mtime))
	}

	fs := &afero.OsFs{}
	tmp, err := tempPointer(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, TempPrefix+"17"), tmp)
	assert.NoFileExists(t, tmp)

	require.NoError(t, publish(fs, dir, "app", t.TempDir()))
	assert.Equal(t, maxTempNames, countEntries(t, dir), "254 stale pointers plus the published one")

	// the first free name is used when there is one
	require.NoError(t, os.Remove(filepath.Join(dir, TempPrefix+"3")))
	tmp, err = tempPointer(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, TempPrefix+"3"), tmp)
}

func assertNoTempPointers(t testing.TB, dir string) {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), TempPrefix)
	}
}

func TestBuildInstallRandomContent(t *testing.T) {
	files := []testFile{
		{path: "data/" + rand.LetterString(12), content: string(rand.Bytes(1 << 20))},
		{path: "data/small", content: string(rand.Bytes(17))},
	}
	f := newFixture(t, files)

	mh, stats, err := BuildWithStats(context.Background(), f.input, f.repo, testArtifact, Codec(compress.LZ4))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Chunks)

	installed, err := Install(context.Background(), testArtifact, f.store)
	require.NoError(t, err)
	assert.Equal(t, mh, installed)

	tree := filepath.Join(f.store.Path, "artifacts", testArtifact)
	for _, file := range files {
		content, err := os.ReadFile(filepath.Join(tree, filepath.FromSlash(file.path)))
		require.NoError(t, err)
		assert.True(t, file.content == string(content), "content of %s must survive the round trip", file.path)
	}
}

func TestBuildSymlinkedInput(t *testing.T) {
	f := newFixture(t, testFiles)
	mh, err := Build(context.Background(), f.input, f.repo, testArtifact)
	require.NoError(t, err)

	absLink := filepath.Join(f.root, "abs-link")
	require.NoError(t, os.Symlink(f.input, absLink))
	relLink := filepath.Join(f.root, "rel-link")
	require.NoError(t, os.Symlink("abs-link", relLink))

	for _, link := range []string{absLink, relLink} {
		linked, stats, err := BuildWithStats(context.Background(), link, f.repo, testArtifact)
		require.NoError(t, err, link)
		assert.Equal(t, len(testFiles), stats.Files, link)
		assert.Equal(t, mh, linked, "a linked input root builds the same artifact")
	}

	registered, err := registry.New(afero.NewOsFs(), filepath.Join(f.repo, "artifacts")).Get(testArtifact)
	require.NoError(t, err)
	assert.Equal(t, mh, registered)
}

// takenFs simulates a concurrent install creating the temporary pointer name first
type takenFs struct {
	*afero.OsFs
	taken []string
}

func (fs *takenFs) SymlinkIfPossible(oldname, newname string) error {
	if len(fs.taken) < 2 {
		fs.taken = append(fs.taken, newname)
		if err := os.Symlink(oldname, newname); err != nil {
			return err
		}
	}
	return fs.OsFs.SymlinkIfPossible(oldname, newname)
}

func TestPublishTempNameTaken(t *testing.T) {
	dir := t.TempDir()
	target := t.TempDir()
	fs := &takenFs{OsFs: &afero.OsFs{}}

	require.NoError(t, publish(fs, dir, "app", target))
	assert.Equal(t, []string{
		filepath.Join(dir, TempPrefix+"0"),
		filepath.Join(dir, TempPrefix+"1"),
	}, fs.taken)

	current, err := os.Readlink(filepath.Join(dir, "app"))
	require.NoError(t, err)
	assert.Equal(t, target, current)
	assert.NoFileExists(t, filepath.Join(dir, TempPrefix+"2"))
}

func TestPublishConcurrent(t *testing.T) {
	dir := t.TempDir()
	fs := &afero.OsFs{}
	targets := []string{t.TempDir(), t.TempDir()}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- publish(fs, dir, "app", targets[i%2])
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := os.Readlink(filepath.Join(dir, "app"))
	require.NoError(t, err)
	assert.Contains(t, targets, current)
	assertNoTempPointers(t, dir)
}
