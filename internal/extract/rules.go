package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Rule is one approval rule: who approves under which condition.
type Rule struct {
	Condition string  `json:"condition"`
	Approver  string  `json:"approver"`
	Remark    *string `json:"remark"`
}

// RuleSet is the document shape the model must return.
type RuleSet struct {
	Rules []Rule `json:"rules"`
}

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|` +
		`new\s+instructions)`,
)

// Sanitize trims every field and turns blank remarks into null. Every rule
// is kept. It returns the indexes of rules worth a second look: a blank
// condition or approver, or text that reads like an instruction to the model.
func Sanitize(rs *RuleSet) []int {
	if rs == nil {
		return nil
	}
	var suspicious []int
	for i := range rs.Rules {
		r := &rs.Rules[i]
		r.Condition = strings.TrimSpace(r.Condition)
		r.Approver = strings.TrimSpace(r.Approver)
		if r.Remark != nil {
			remark := strings.TrimSpace(*r.Remark)
			if remark == "" {
				r.Remark = nil
			} else {
				r.Remark = &remark
			}
		}
		if Suspicious(*r) {
			suspicious = append(suspicious, i)
		}
	}
	return suspicious
}

// Suspicious reports whether a trimmed rule has a blank condition or
// approver, or text matching a prompt injection phrase.
func Suspicious(r Rule) bool {
	if r.Condition == "" || r.Approver == "" {
		return true
	}
	return injectionPattern.MatchString(r.Condition) || injectionPattern.MatchString(r.Approver)
}

// MarshalIndent renders v as indented JSON without HTML escaping,
// so non-ASCII and markup in rule text stay readable.
func MarshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile saves the rule set as indented JSON.
func (rs *RuleSet) WriteFile(path string) error {
	data, err := MarshalIndent(rs)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}
