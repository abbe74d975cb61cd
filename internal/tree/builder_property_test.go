package tree

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Property: the input order of line edits within one file never changes the
// result, because the builder reorders them by descending start line. Edits
// are drawn non-overlapping so both orders are meaningful.
func TestLineEditOrderIndependence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lineCount := rapid.IntRange(4, 40).Draw(rt, "lineCount")
		lines := make([]string, lineCount)
		for i := range lines {
			lines[i] = "l" + strconv.Itoa(i+1)
		}
		content := strings.Join(lines, "\n")

		// Carve the file into disjoint ranges, then pick a few.
		var edits []LineEdit
		cursor := 1
		for cursor < lineCount {
			end := rapid.IntRange(cursor+1, lineCount).Draw(rt, "end"+strconv.Itoa(cursor))
			edits = append(edits, LineEdit{
				StartLine: cursor,
				EndLine:   end,
				Content:   rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "repl"+strconv.Itoa(cursor)),
			})
			cursor = end + 1
		}
		if len(edits) < 2 {
			rt.Skip("need at least two edits to permute")
		}
		perm := rapid.Permutation(edits).Draw(rt, "perm")

		dir, err := os.MkdirTemp("", "tree-prop-")
		if err != nil {
			rt.Fatalf("tempdir: %v", err)
		}
		defer os.RemoveAll(dir)
		b := testBuilderRT()
		base := filepath.Join(dir, "base")
		if err := b.Replace(base, []File{{Path: "f.txt", Content: content}}); err != nil {
			rt.Fatalf("replace: %v", err)
		}

		run := func(name string, es []LineEdit) string {
			target := filepath.Join(dir, name)
			err := b.Apply(base, target, []Instruction{{Type: TypeLineEdit, Path: "f.txt", Diffs: es}})
			if err != nil {
				rt.Fatalf("apply %s: %v", name, err)
			}
			data, err := os.ReadFile(filepath.Join(target, "f.txt"))
			if err != nil {
				rt.Fatalf("read %s: %v", name, err)
			}
			return string(data)
		}

		if got, want := run("permuted", perm), run("ordered", edits); got != want {
			rt.Fatalf("edit order changed result:\n%q\nvs\n%q", got, want)
		}
	})
}

func testBuilderRT() *Builder {
	return NewBuilder(nil)
}
