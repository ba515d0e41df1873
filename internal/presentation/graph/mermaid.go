package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/scenesync/pkg/domain"
)

// Overlay marks entities to highlight on the diagram.
type Overlay struct {
	// Selected entities, e.g. a replica's current selection.
	Selected []string
	// Changed entities, e.g. the targets of the last envelope.
	Changed []string
}

// GenerateMermaid renders a snapshot tree as a Mermaid flowchart.
// Shapes follow the entity type:
// - folder: [Rectangle]
// - geometry: ([Stadium])
// - metadata: [/Parallelogram/]
// - other: {{Hexagon}}
func GenerateMermaid(root domain.EntitySnapshot, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	writeNode(&sb, root)

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text stays readable on both themes.
		sb.WriteString("    classDef changed fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef selected fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		writeClass(&sb, "changed", overlay.Changed)
		writeClass(&sb, "selected", overlay.Selected)
	}
	return sb.String()
}

func writeNode(sb *strings.Builder, n domain.EntitySnapshot) {
	safeID := sanitizeMermaidID(n.ID)

	opener, closer := "{{", "}}"
	switch n.Type {
	case domain.TypeFolder:
		opener, closer = "[", "]"
	case domain.TypeGeometry:
		opener, closer = "([", "])"
	case domain.TypeMetadata:
		opener, closer = "[/", "/]"
	}

	label := n.ID
	if name, ok := n.Fields[domain.FieldName].(string); ok && name != "" {
		label = fmt.Sprintf("%s <br/> %s", name, n.ID)
	}
	label = strings.ReplaceAll(label, "\"", "'")
	sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

	for _, c := range n.Children {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", safeID, sanitizeMermaidID(c.ID)))
	}
	for _, c := range n.Children {
		writeNode(sb, c)
	}
}

func writeClass(sb *strings.Builder, class string, ids []string) {
	seen := make(map[string]bool)
	for _, id := range ids {
		safeID := sanitizeMermaidID(id)
		if safeID == "" || seen[safeID] {
			continue
		}
		seen[safeID] = true
		sb.WriteString(fmt.Sprintf("    class %s %s;\n", safeID, class))
	}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
