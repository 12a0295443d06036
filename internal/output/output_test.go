package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/obplan/internal/ui"
)

func newWriter() (*Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(ui.Config{Output: buf, NoColor: true}), buf
}

func TestWriter_Icons(t *testing.T) {
	tests := []struct {
		name  string
		print func(*Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Success("wrote topology.yaml") }, "✓ wrote topology.yaml\n"},
		{"successf", func(w *Writer) { w.Successf("planned %d keys", 3) }, "✓ planned 3 keys\n"},
		{"warning", func(w *Writer) { w.Warning("lock held") }, "! lock held\n"},
		{"warningf", func(w *Writer) { w.Warningf("%s exists", ".obplan.yaml") }, "! .obplan.yaml exists\n"},
		{"error", func(w *Writer) { w.Error("write failed") }, "✗ write failed\n"},
		{"errorf", func(w *Writer) { w.Errorf("exit %d", 1) }, "✗ exit 1\n"},
		{"info", func(w *Writer) { w.Info("backup skipped") }, "• backup skipped\n"},
		{"status", func(w *Writer) { w.Statusf("", "indented %s", "line") }, "  indented line\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a writer without color
			w, buf := newWriter()

			// When: printing the message
			tt.print(w)

			// Then: the icon leads the message
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Code_IndentsEveryLine(t *testing.T) {
	w, buf := newWriter()

	w.Code("obplan check topology.yaml\nobplan plan --write topology.yaml\n")

	assert.Equal(t, "\n  obplan check topology.yaml\n  obplan plan --write topology.yaml\n\n", buf.String())
}

func TestWriter_Newline(t *testing.T) {
	w, buf := newWriter()

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}
