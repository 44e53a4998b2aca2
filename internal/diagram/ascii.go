package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as text, one row of boxes per level.
// Steps in the same row have no dependencies on each other.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		if model.Status != "" {
			fmt.Fprintf(&b, "=== %s [%s] ===\n\n", model.Title, model.Status)
		} else {
			fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
		}
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := model.Node(nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	renderLegend(&b, model)
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	label := firstLine(node.Label)
	switch {
	case node.Kind == NodeKindConditional:
		label = "? " + label
	case node.Kind == NodeKindParallel:
		label = "|| " + label
	}
	if node.Critical {
		label += " !"
	}
	content := []string{label}
	if node.Action != "" {
		content = append(content, node.Action)
	}

	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			if node.Status.Attempts > 1 {
				tag = fmt.Sprintf("%s x%d", tag, node.Status.Attempts)
			}
			content = append(content, tag)
		}
		if node.Status.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, c := range content {
		padded := c + strings.Repeat(" ", maxLen-utf8.RuneCountInString(c))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}

	for row := 0; row < height; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// renderLegend lists failures and skip reasons under the diagram.
func renderLegend(b *strings.Builder, model *DiagramModel) {
	var notes []string
	for _, n := range model.Nodes {
		if n.Status == nil {
			continue
		}
		switch {
		case n.Status.Error != "":
			notes = append(notes, fmt.Sprintf("  %s: %s", n.ID, n.Status.Error))
		case n.Status.Reason != "":
			notes = append(notes, fmt.Sprintf("  %s: skipped, %s", n.ID, n.Status.Reason))
		}
	}
	if len(notes) == 0 {
		return
	}
	b.WriteString("\nNotes:\n")
	b.WriteString(strings.Join(notes, "\n"))
	b.WriteByte('\n')
}
