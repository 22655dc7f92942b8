// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// instructionTmpl is the field-specific instruction sent with every chunk.
var instructionTmpl = template.Must(template.New("instruction").Parse(`You are a clinical research analyst extracting structured data from a clinical trial protocol.

Extract the "{{.Field}}" field from the protocol excerpt that follows.
This field should contain: {{.Description}}.

Rules:
- Copy facts from the excerpt; do not invent values that are not present.
- Write the content as plain text. Use line breaks and "- " bullets for lists.
- If the excerpt does not contain this information, return an empty string for content.
- page_references lists the page numbers (shown as "--- Page N ---" markers or stated in the text) the content came from; use [] when unknown.

Respond with a single JSON object with exactly these keys and nothing else:
{"content": "<string>", "page_references": [<integers>]}
{{- if .Previous}}

Previous extraction of this field:
{{.Previous}}
{{- end}}
{{- if .Feedback}}

Reviewer feedback to apply in this extraction:
{{.Feedback}}
{{- end}}
`))

type instructionData struct {
	Field       types.FieldID
	Description string
	Previous    string
	Feedback    string
}

// renderInstruction builds the instruction for spec. Previous and feedback
// are empty except on refinement.
func renderInstruction(spec types.FieldSpec, previous, feedback string) (string, error) {
	var buf bytes.Buffer
	err := instructionTmpl.Execute(&buf, instructionData{
		Field:       spec.ID,
		Description: strings.TrimSuffix(spec.Description, "."),
		Previous:    strings.TrimSpace(previous),
		Feedback:    strings.TrimSpace(feedback),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// composePrompt joins an instruction and its chunk into one user message.
func composePrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Instruction)
	b.WriteString("\nProtocol excerpt:\n")
	b.WriteString(req.Content)
	b.WriteString("\n")
	return b.String()
}
