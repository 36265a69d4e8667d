package extract

import (
	"fmt"
	"strings"
)

// SystemPrompt is sent with every request.
const SystemPrompt = "You are a rigorous JSON generator. You only ever output a single JSON object."

const rulesInstructions = `You are an assistant that parses enterprise approval rules.
Extract every approval rule from the document below.

Requirements:
- Return strict JSON only.
- Do not output any explanatory text.
- Use null for any field you cannot determine.
- Keep the wording of conditions and approvers in the document's language.

The JSON must have exactly this shape:
{
  "rules": [
    {
      "condition": "string",
      "approver": "string",
      "remark": "string | null"
    }
  ]
}
Return {"rules": []} if the document contains no approval rules.`

const closingInstruction = "Return only the JSON object, with no other text."

// Input is one unit of text to extract rules from.
type Input struct {
	Source  string   // File name or chunk id, for logs and fallback records
	Title   string   // Document or section title
	Path    []string // Heading hierarchy, if the text is a chunk
	Content string
}

// BuildRulesPrompt creates the first-attempt prompt.
func BuildRulesPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString(rulesInstructions)
	writeDocument(&sb, in)
	sb.WriteString("\n")
	sb.WriteString(closingInstruction)
	return sb.String()
}

// BuildCorrectivePrompt repeats the request and tells the model what was
// wrong with its previous reply. The previous output is included when there was one.
func BuildCorrectivePrompt(in Input, prev *Failure) string {
	var sb strings.Builder
	sb.WriteString(rulesInstructions)
	writeDocument(&sb, in)

	sb.WriteString("\nImportant:\n")
	if prev != nil {
		sb.WriteString(fmt.Sprintf("- Your previous response was rejected (%s): %s\n", prev.Kind.describe(), prev.Detail()))
		if prev.Raw != "" {
			sb.WriteString("- Your previous output was:\n")
			sb.WriteString(prev.Raw)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("- Check the output format carefully so that it matches the JSON shape above exactly, without any explanatory text.\n")
	sb.WriteString(closingInstruction)
	return sb.String()
}

func writeDocument(sb *strings.Builder, in Input) {
	sb.WriteString("\n\n---\n")
	if in.Title != "" {
		sb.WriteString(fmt.Sprintf("Document: %q\n", in.Title))
	}
	if len(in.Path) > 0 {
		sb.WriteString("Section: ")
		sb.WriteString(strings.Join(in.Path, " > "))
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(in.Content)
	sb.WriteString("\n---\n")
}

func (k ErrorKind) describe() string {
	switch k {
	case KindTransport:
		return "API call error"
	case KindDecode:
		return "JSON parse error"
	case KindSchema:
		return "JSON Schema validation error"
	}
	return string(k)
}
