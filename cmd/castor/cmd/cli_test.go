package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oneconcern/castor/internal/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitMocks struct {
	exitStatuses []int
}

func (m *exitMocks) Fatalf(format string, v ...interface{}) {
	fmt.Printf(format+"\n", v...)
	m.exitStatuses = append(m.exitStatuses, 1)
}

func (m *exitMocks) Fatalln(v ...interface{}) {
	fmt.Println(v...)
	m.exitStatuses = append(m.exitStatuses, 1)
}

func (m *exitMocks) fatalCalls() int {
	return len(m.exitStatuses)
}

type cliFixture struct {
	input, repo, store, cache string
	mocks                     *exitMocks
}

func setupTests(t *testing.T) *cliFixture {
	root := t.TempDir()
	f := &cliFixture{
		input: filepath.Join(root, "input"),
		repo:  filepath.Join(root, "repo"),
		store: filepath.Join(root, "store"),
		cache: filepath.Join(root, "cache"),
		mocks: &exitMocks{},
	}

	for rel, content := range map[string]string{
		"README":            "castor\n",
		"bin/app":           "#!/bin/sh\necho app\n",
		"share/doc/LICENSE": "castor\n",
	} {
		pth := filepath.Join(f.input, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(pth), 0755))
		mode := os.FileMode(0644)
		if strings.HasPrefix(rel, "bin/") {
			mode = 0755
		}
		require.NoError(t, os.WriteFile(pth, []byte(content), mode))
	}

	// isolate from any user configuration
	t.Setenv("CASTOR_CONFIG", filepath.Join(root, "castor.yaml"))
	t.Setenv("CASTOR_STORE_PATH", f.store)
	t.Setenv("CASTOR_STORE_CACHE", f.cache)
	t.Setenv("CASTOR_SOURCES", f.repo)
	t.Setenv("CASTOR_LOGLEVEL", "none")

	saveFatalln, saveFatalf := logFatalln, logFatalf
	logFatalln = f.mocks.Fatalln
	logFatalf = f.mocks.Fatalf
	t.Cleanup(func() {
		logFatalln, logFatalf = saveFatalln, saveFatalf
		rootCmd.SetOut(nil)
	})
	return f
}

func runCmd(t *testing.T, args ...string) string {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return strings.TrimSpace(out.String())
}

func TestCLIBuildInstall(t *testing.T) {
	f := setupTests(t)

	runCmd(t, "repo", "create", f.repo)
	id := runCmd(t, "build", "--input", f.input, "--repo", f.repo, "--name", "app")
	require.Zero(t, f.mocks.fatalCalls())
	require.NotEmpty(t, id)

	assert.Equal(t, "app:"+id, runCmd(t, "repo", "list", f.repo))

	runCmd(t, "store", "create")
	assert.Equal(t, id, runCmd(t, "install", "app"))
	require.Zero(t, f.mocks.fatalCalls())

	tree := filepath.Join(f.store, "artifacts", "app")

	content, err := os.ReadFile(filepath.Join(tree, "bin", "app"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho app\n", string(content))
	info, err := os.Stat(filepath.Join(tree, "bin", "app"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0100)

	assert.Equal(t, id, runCmd(t, "installed", "app"))

	cached := runCmd(t, "resolve", "--fresh", "artifacts")
	registry, err := os.ReadFile(cached)
	require.NoError(t, err)
	assert.Contains(t, string(registry), "app:"+id)
	assert.Zero(t, f.mocks.fatalCalls())
}

func TestCLIRepoCreateTwice(t *testing.T) {
	f := setupTests(t)

	runCmd(t, "repo", "create", f.repo)
	require.Zero(t, f.mocks.fatalCalls())
	runCmd(t, "repo", "create", f.repo)
	assert.Equal(t, 1, f.mocks.fatalCalls())
}

func TestCLIInstallFailures(t *testing.T) {
	f := setupTests(t)

	runCmd(t, "repo", "create", f.repo)
	runCmd(t, "store", "create")
	require.Zero(t, f.mocks.fatalCalls())

	runCmd(t, "install", "missing-"+rand.LetterString(8))
	assert.Equal(t, 1, f.mocks.fatalCalls())

	runCmd(t, "installed", "missing")
	assert.Equal(t, 2, f.mocks.fatalCalls())

	runCmd(t, "resolve", "chunks/none")
	assert.Equal(t, 3, f.mocks.fatalCalls())
}

func TestCLIConfigGenerate(t *testing.T) {
	f := setupTests(t)

	out := runCmd(t, "config", "generate")
	assert.Contains(t, out, "store:")
	assert.Contains(t, out, f.store)
	assert.Contains(t, out, "chunks: chunks")

	output := filepath.Join(t.TempDir(), "castor.yaml")
	runCmd(t, "config", "generate", "--output", output)
	content, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, out+"\n", string(content))
	castorFlags.config.Output = ""
	assert.Zero(t, f.mocks.fatalCalls())
}

func TestCLIVersion(t *testing.T) {
	setupTests(t)
	assert.Contains(t, runCmd(t, "version"), "Version: dev")
}
