package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	r := NewExecRunner(testLogger())

	res, err := r.Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	require.True(t, res.Ok())
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)

	res, err = r.Run(context.Background(), []string{"sh", "-c", "exit 3"}, t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.False(t, res.Ok())
}

func TestRunTimeoutKillsProcessAndKeepsPartialOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	r := NewExecRunner(testLogger())

	start := time.Now()
	res, err := r.Run(context.Background(), []string{"sh", "-c", "echo partial; sleep 30"}, t.TempDir(), 300*time.Millisecond)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.True(t, res.TimedOut)
	require.False(t, res.Ok())
	require.Contains(t, res.Stdout, "partial")
	require.Contains(t, res.Stderr, "timeout")
}

func TestRunMissingBinaryIsAnError(t *testing.T) {
	r := NewExecRunner(testLogger())
	_, err := r.Run(context.Background(), []string{"definitely-not-a-binary-xyz"}, t.TempDir(), time.Second)
	require.Error(t, err)
}

func TestSanitizeManifestStripsStdlib(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requirements.txt")
	body := "requests>=2.31\nsqlite3\nunittest\npytest==8.0.0\nLogging\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	removed, err := SanitizeManifest(path)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "requests>=2.31\npytest==8.0.0\n", string(data))
}

func TestSanitizeManifestMissingFileIsNoop(t *testing.T) {
	removed, err := SanitizeManifest(filepath.Join(t.TempDir(), "requirements.txt"))
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestRequirementNameParsing(t *testing.T) {
	cases := map[string]string{
		"requests":              "requests",
		"requests==2.31.0":      "requests",
		"uvicorn[standard]>=0c": "uvicorn",
		"Flask ; python<'3.12'": "flask",
		"numpy # for math":      "numpy",
	}
	for in, want := range cases {
		require.Equal(t, want, requirementName(in), in)
	}
}

// fakeRunner scripts results for Env tests without spawning processes.
type fakeRunner struct {
	results []Result
	argvs   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, dir string, timeout time.Duration) (Result, error) {
	f.argvs = append(f.argvs, argv)
	if len(f.results) == 0 {
		return Result{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func TestEnvInstallSkipsWhenManifestEmptiesOut(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("json\nsys\n"), 0o644))

	fake := &fakeRunner{}
	env := NewEnv(t.TempDir(), fake, testLogger())

	res, err := env.Install(context.Background(), dir, "requirements.txt", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Ok())
	require.Empty(t, fake.argvs, "pip must not run for an emptied manifest")
}

func TestEnvInstallRunsPip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("pytest\n"), 0o644))

	fake := &fakeRunner{results: []Result{{ExitCode: 0}}}
	env := NewEnv(t.TempDir(), fake, testLogger())

	_, err := env.Install(context.Background(), dir, "requirements.txt", time.Minute)
	require.NoError(t, err)
	require.Len(t, fake.argvs, 1)
	require.Contains(t, fake.argvs[0], "pip")
	require.Contains(t, fake.argvs[0], "-r")
}

func TestEnvRunTestsChecksTargetsExist(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeRunner{}
	env := NewEnv(t.TempDir(), fake, testLogger())

	res, err := env.RunTests(context.Background(), dir, []string{"tests/missing_test.py"}, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Ok())
	require.Contains(t, res.Stderr, "does not exist")
	require.Empty(t, fake.argvs)
}
