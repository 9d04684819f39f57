// Package fielderrors turns validation failures from the PRISMA API into a
// tree keyed by form field.
package fielderrors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// RuleRequired is the validation rule whose helper text is fixed.
const RuleRequired = "Required"

// RequiredText is shown for fields failing RuleRequired.
var RequiredText = "Field is required."

// Violation is one record of the array wire format.
type Violation struct {
	Property string `json:"property"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
}

// Node is a field's own error (Rule/Message) and/or errors of its children.
type Node struct {
	Property    string `json:"property"`
	Rule        string `json:"rule,omitempty"`
	Message     string `json:"message,omitempty"`
	FieldErrors Tree   `json:"fieldErrors,omitempty"`
}

// Tree maps a field name to its errors.
type Tree map[string]*Node

// Parse accepts either an array of violations with dot-delimited properties
// or an object already shaped like a Tree, which is taken as is.
func Parse(body json.RawMessage) (Tree, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Tree{}, nil
	}

	if trimmed[0] != '[' {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("field errors: %w", err)
		}
		t := make(Tree, len(entries))
		for k, v := range entries {
			t[k] = entryNode(k, v)
		}
		return t, nil
	}

	var violations []Violation
	if err := json.Unmarshal(trimmed, &violations); err != nil {
		return nil, fmt.Errorf("field errors: %w", err)
	}
	return FromViolations(violations), nil
}

// entryNode converts one value of a pre-shaped object. Values that are not
// node objects become the field's message.
func entryNode(property string, v json.RawMessage) *Node {
	r := gjson.ParseBytes(v)
	if r.IsObject() {
		var n Node
		if err := json.Unmarshal(v, &n); err == nil {
			if n.Property == "" {
				n.Property = property
			}
			return &n
		}
	}
	return &Node{Property: property, Message: r.String()}
}

// FromViolations builds a tree; a later violation for the same path wins.
func FromViolations(violations []Violation) Tree {
	t := Tree{}
	for _, v := range violations {
		t.add(v)
	}
	return t
}

func (t Tree) add(v Violation) {
	segments := strings.Split(v.Property, ".")
	level := t
	for i, seg := range segments {
		node, ok := level[seg]
		if !ok {
			node = &Node{Property: seg}
			level[seg] = node
		}
		if i == len(segments)-1 {
			node.Rule = v.Rule
			node.Message = v.Message
			return
		}
		if node.FieldErrors == nil {
			node.FieldErrors = Tree{}
		}
		level = node.FieldErrors
	}
}

func (t Tree) HasErrorForField(name string) bool {
	_, ok := t[name]
	return ok
}

// HelperTextForField returns the text a form shows under the field.
func (t Tree) HelperTextForField(name string) (string, bool) {
	node, ok := t[name]
	if !ok || node == nil {
		return "", false
	}
	if node.Rule == RuleRequired {
		return RequiredText, true
	}
	if node.Message != "" {
		return node.Message, true
	}
	return "", false
}

// Field returns the subtree for a nested field, or nil.
func (t Tree) Field(name string) Tree {
	if node, ok := t[name]; ok && node != nil {
		return node.FieldErrors
	}
	return nil
}
