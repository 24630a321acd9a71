package manifests

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// ErrInvalidResult means the tool output does not match the manifest schema.
var ErrInvalidResult = errors.New("result does not match schema")

// ValidateResult checks raw tool output against the manifest's result schema.
func (m *Manifest) ValidateResult(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrInvalidResult, err)
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return fmt.Errorf("%w: top level must be an object", ErrInvalidResult)
	}
	if m.schema == nil {
		return nil
	}

	result := m.schema.Validate(doc)
	if !result.IsValid() {
		var messages []string
		for field, evalErr := range result.Errors {
			messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		sort.Strings(messages)
		return fmt.Errorf("%w: %s", ErrInvalidResult, strings.Join(messages, "; "))
	}
	return nil
}
