package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// RulesSchema is the JSON Schema every model response must satisfy.
const RulesSchema = `{
  "type": "object",
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "condition": {"type": "string"},
          "approver": {"type": "string"},
          "remark": {"type": ["string", "null"]}
        },
        "required": ["condition", "approver", "remark"],
        "additionalProperties": false
      }
    }
  },
  "required": ["rules"],
  "additionalProperties": false
}`

// ErrorKind classifies why an extraction attempt failed.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // The API call itself failed.
	KindDecode    ErrorKind = "decode"    // The reply is not JSON.
	KindSchema    ErrorKind = "schema"    // The reply is JSON but not a rule set.
)

// ValidationError describes a reply that could not be accepted.
type ValidationError struct {
	Kind    ErrorKind
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, strings.Join(e.Details, "; "))
}

// Validator checks model replies against RulesSchema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles RulesSchema.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(RulesSchema))
	if err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate decodes a raw reply into a RuleSet. A surrounding Markdown code
// fence is tolerated. Failures are returned as *ValidationError.
func (v *Validator) Validate(raw string) (*RuleSet, error) {
	body := StripCodeBlock(raw)
	if body == "" {
		return nil, &ValidationError{Kind: KindDecode, Details: []string{"empty response"}}
	}
	if !gjson.Valid(body) {
		return nil, &ValidationError{Kind: KindDecode, Details: []string{decodeDetail(body)}}
	}

	result, err := v.schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, &ValidationError{Kind: KindDecode, Details: []string{err.Error()}}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, &ValidationError{Kind: KindSchema, Details: details}
	}

	var rs RuleSet
	if err := json.Unmarshal([]byte(body), &rs); err != nil {
		return nil, &ValidationError{Kind: KindDecode, Details: []string{err.Error()}}
	}
	if rs.Rules == nil {
		rs.Rules = []Rule{}
	}
	return &rs, nil
}

// decodeDetail reports where decoding stops, for the corrective prompt.
func decodeDetail(body string) string {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return err.Error()
	}
	return "invalid JSON"
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeBlock removes a Markdown code fence around a model reply.
func StripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
