package conversation

import (
	"fmt"
	"strings"

	"github.com/antoniostano/voxline/internal/knowledge"
	"github.com/antoniostano/voxline/internal/tools"
)

const toolCallInstruction = `When you have collected every required parameter for a tool, reply with ONLY a JSON object of the form {"tool": "<tool name>", "data": {"<parameter>": <value>}} and no other text. Until then, keep asking the caller for the missing details in plain spoken language.`

// BuildInstruction assembles the system instruction for one turn: agent
// identity, then knowledge documents, then the tool catalog.
func BuildInstruction(identity string, docs []knowledge.Document, defs []tools.Definition) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(identity))

	if len(docs) > 0 {
		b.WriteString("\n\nUse the following knowledge base to answer questions:\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", d.ID, strings.TrimSpace(d.Content))
		}
	}

	if len(defs) > 0 {
		b.WriteString("\n\nYou can use these tools:\n")
		for _, d := range defs {
			b.WriteString("- ")
			b.WriteString(d.Name)
			if desc := strings.TrimSpace(d.Description); desc != "" {
				b.WriteString(": ")
				b.WriteString(desc)
			}
			b.WriteString("\n")
			for _, p := range d.Parameters {
				fmt.Fprintf(&b, "  - %s", p.Name)
				var attrs []string
				if p.Type != "" {
					attrs = append(attrs, p.Type)
				}
				if p.Required {
					attrs = append(attrs, "required")
				}
				if len(attrs) > 0 {
					fmt.Fprintf(&b, " (%s)", strings.Join(attrs, ", "))
				}
				if p.Description != "" {
					fmt.Fprintf(&b, ": %s", p.Description)
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(toolCallInstruction)
	}
	return strings.TrimSpace(b.String())
}
