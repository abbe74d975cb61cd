package tree

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return NewBuilder(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestReplaceCreatesNestedFiles(t *testing.T) {
	target := filepath.Join(t.TempDir(), "attempt_1")
	b := testBuilder()

	err := b.Replace(target, []File{
		{Path: "main.py", Content: "print('hi')\n"},
		{Path: "pkg/util.py", Content: "x = 1\n"},
	})
	require.NoError(t, err)
	require.Equal(t, "print('hi')\n", readFile(t, filepath.Join(target, "main.py")))
	require.Equal(t, "x = 1\n", readFile(t, filepath.Join(target, "pkg", "util.py")))
}

func TestReplaceIsIdempotent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "attempt")
	files := []File{
		{Path: "a.txt", Content: "one"},
		{Path: "d/b.txt", Content: "two"},
	}
	b := testBuilder()
	require.NoError(t, b.Replace(target, files))
	first := snapshotTree(t, target)
	require.NoError(t, b.Replace(target, files))
	require.Equal(t, first, snapshotTree(t, target))
}

func TestReplaceDiscardsPreviousContent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "attempt")
	b := testBuilder()
	require.NoError(t, b.Replace(target, []File{{Path: "old.txt", Content: "stale"}}))
	require.NoError(t, b.Replace(target, []File{{Path: "new.txt", Content: "fresh"}}))

	_, err := os.Stat(filepath.Join(target, "old.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestReplaceUnwrapsManifestObject(t *testing.T) {
	target := filepath.Join(t.TempDir(), "attempt")
	b := testBuilder()
	err := b.Replace(target, []File{
		{Path: "requirements.txt", Content: `{"content": "pytest\nrequests"}`},
		{Path: "notes.txt", Content: `{"content": "untouched"}`},
	})
	require.NoError(t, err)
	require.Equal(t, "pytest\nrequests", readFile(t, filepath.Join(target, "requirements.txt")))
	// Only the manifest gets unwrapped.
	require.Equal(t, `{"content": "untouched"}`, readFile(t, filepath.Join(target, "notes.txt")))
}

func TestApplyCopiesBaseThenEdits(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	target := filepath.Join(dir, "target")
	b := testBuilder()
	require.NoError(t, b.Replace(base, []File{
		{Path: "keep.txt", Content: "kept"},
		{Path: "drop.txt", Content: "doomed"},
	}))

	err := b.Apply(base, target, []Instruction{
		{Type: TypeNewFile, Path: "added.txt", Content: "new"},
		{Type: TypeReplaceFile, Path: "keep.txt", Content: "replaced"},
		{Type: TypeDeleteFile, Path: "drop.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, "replaced", readFile(t, filepath.Join(target, "keep.txt")))
	require.Equal(t, "new", readFile(t, filepath.Join(target, "added.txt")))
	_, statErr := os.Stat(filepath.Join(target, "drop.txt"))
	require.True(t, os.IsNotExist(statErr))

	// The base tree is untouched.
	require.Equal(t, "kept", readFile(t, filepath.Join(base, "keep.txt")))
	require.Equal(t, "doomed", readFile(t, filepath.Join(base, "drop.txt")))
}

func TestApplyDeleteMissingAndUnknownAreNonFatal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	b := testBuilder()
	err := b.Apply(filepath.Join(dir, "no-base"), target, []Instruction{
		{Type: TypeDeleteFile, Path: "ghost.txt"},
		{Type: "rename_file", Path: "a.txt", Content: "b.txt"},
		{Type: TypeNewFile, Path: "real.txt", Content: "ok"},
	})
	require.NoError(t, err)
	require.Equal(t, "ok", readFile(t, filepath.Join(target, "real.txt")))
}

func tenLines() string {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "line" + strconv.Itoa(i+1)
	}
	return strings.Join(lines, "\n")
}

func TestLineEditsApplyInDescendingOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	b := testBuilder()
	require.NoError(t, b.Replace(base, []File{{Path: "f.txt", Content: tenLines()}}))

	// Input order is ascending; the builder must reorder so the edit at
	// lines 6-7 still lands on the original line numbers.
	ascending := filepath.Join(dir, "asc")
	err := b.Apply(base, ascending, []Instruction{{
		Type: TypeLineEdit, Path: "f.txt",
		Diffs: []LineEdit{
			{StartLine: 2, EndLine: 4, Content: "X"},
			{StartLine: 6, EndLine: 7, Content: "Y"},
		},
	}})
	require.NoError(t, err)

	descending := filepath.Join(dir, "desc")
	err = b.Apply(base, descending, []Instruction{{
		Type: TypeLineEdit, Path: "f.txt",
		Diffs: []LineEdit{
			{StartLine: 6, EndLine: 7, Content: "Y"},
			{StartLine: 2, EndLine: 4, Content: "X"},
		},
	}})
	require.NoError(t, err)

	want := "line1\nX\nline5\nY\nline8\nline9\nline10"
	require.Equal(t, want, readFile(t, filepath.Join(ascending, "f.txt")))
	require.Equal(t, want, readFile(t, filepath.Join(descending, "f.txt")))
}

func TestLineEditOutOfRangeIsSkipped(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	b := testBuilder()
	require.NoError(t, b.Replace(base, []File{{Path: "f.txt", Content: tenLines()}}))

	target := filepath.Join(dir, "target")
	err := b.Apply(base, target, []Instruction{{
		Type: TypeLineEdit, Path: "f.txt",
		Diffs: []LineEdit{
			{StartLine: 20, EndLine: 22, Content: "nope"},
			{StartLine: 4, EndLine: 3, Content: "inverted"},
		},
	}})
	require.NoError(t, err)
	require.Equal(t, tenLines(), readFile(t, filepath.Join(target, "f.txt")))
}

func TestLineEditAgainstEmptyFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	b := testBuilder()
	require.NoError(t, b.Replace(base, []File{{Path: "f.txt", Content: ""}}))

	// An empty file has no line 1 to replace.
	target := filepath.Join(dir, "target")
	err := b.Apply(base, target, []Instruction{{
		Type: TypeLineEdit, Path: "f.txt",
		Diffs: []LineEdit{{StartLine: 1, EndLine: 1, Content: "sneaky"}},
	}})
	require.NoError(t, err)
	require.Equal(t, "", readFile(t, filepath.Join(target, "f.txt")))
}

func TestLineEditAgainstMissingFileCreatesIt(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	b := testBuilder()
	require.NoError(t, b.Replace(base, nil))

	target := filepath.Join(dir, "target")
	err := b.Apply(base, target, []Instruction{{
		Type: TypeLineEdit, Path: "fresh.txt",
		Diffs: []LineEdit{
			{StartLine: 1, EndLine: 2, Content: "first"},
			{StartLine: 3, EndLine: 4, Content: "second"},
		},
	}})
	require.NoError(t, err)
	require.Equal(t, "first\nsecond", readFile(t, filepath.Join(target, "fresh.txt")))
}

func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		out[rel] = readFile(t, path)
		return nil
	})
	require.NoError(t, err)
	return out
}
