// Package diffview renders human-readable views of tracked scalar changes,
// for debug logging and for taskexecctl's inspect command.
package diffview

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"taskexec/internal/taskexec/protocol"
)

// Render returns a unified-diff-style rendering of a scalar attribute
// change. Non-string values are rendered via fmt.Sprintf("%v", ...) before
// diffing, so the output is always readable even for a changed int or bool,
// though only string-valued changes get a character-level diff; everything
// else is shown as a whole-value replacement.
func Render(attr string, v protocol.Value) string {
	initial := stringify(v.Initial)
	current := stringify(v.Current)

	if initial == current {
		return fmt.Sprintf("%s: (unchanged)", attr)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(initial, current, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	return fmt.Sprintf("%s: %s", attr, dmp.DiffPrettyText(diffs))
}

// RenderEntity renders every scalar attribute diff in attrs, one line per
// attribute, skipping collection-append entries (those have no single
// before/after value to diff).
func RenderEntity(attrs map[string]protocol.AttrDiff) string {
	var b strings.Builder
	for attr, diff := range attrs {
		if diff.Scalar == nil {
			continue
		}
		b.WriteString(Render(attr, *diff.Scalar))
		b.WriteByte('\n')
	}
	return b.String()
}

func stringify(v any) string {
	if v == nil {
		return "<nil>"
	}
	if v == protocol.NotLoaded {
		return "<not loaded>"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
