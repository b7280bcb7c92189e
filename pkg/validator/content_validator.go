package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType is the input kind of a template field.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldSignature FieldType = "signature"
	FieldDate      FieldType = "date"
	FieldNumber    FieldType = "number"
	FieldCheckbox  FieldType = "checkbox"
	FieldEmail     FieldType = "email"
)

func (t FieldType) known() bool {
	switch t {
	case FieldText, FieldSignature, FieldDate, FieldNumber, FieldCheckbox, FieldEmail:
		return true
	}
	return false
}

// FieldDefinition describes one template field
type FieldDefinition struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Label    string    `json:"label,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

func (r *ValidationResult) fail(field, message string, value any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Value: value})
}

// ContentValidator checks document content at the request boundary. Template shapes it does not
// recognise are treated as opaque and accepted.
type ContentValidator struct{}

// NewContentValidator creates a new content validator
func NewContentValidator() *ContentValidator {
	return &ContentValidator{}
}

// ParseTemplate extracts field definitions from templateFields. Two shapes are recognised: a
// list of {name, type, required} objects, or an object keyed by field name whose values carry
// {type, required}. ok is false for null, absent or unrecognised templates.
func (cv *ContentValidator) ParseTemplate(raw json.RawMessage) (defs []FieldDefinition, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	if !json.Valid(raw) {
		return nil, false, fmt.Errorf("templateFields must be valid JSON")
	}

	switch raw[0] {
	case '[':
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, false, nil
		}
		for _, item := range items {
			def, recognised := definitionFrom("", item)
			if !recognised {
				return nil, false, nil
			}
			defs = append(defs, def)
		}
	case '{':
		var byName map[string]map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byName); err != nil {
			return nil, false, nil
		}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			def, recognised := definitionFrom(name, byName[name])
			if !recognised {
				return nil, false, nil
			}
			defs = append(defs, def)
		}
	default:
		return nil, false, nil
	}
	if len(defs) == 0 {
		return nil, false, nil
	}

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if seen[def.Name] {
			return nil, false, fmt.Errorf("templateFields defines %q more than once", def.Name)
		}
		seen[def.Name] = true
		if !def.Type.known() {
			return nil, false, fmt.Errorf("templateFields %q has unknown type %q", def.Name, def.Type)
		}
	}
	return defs, true, nil
}

func definitionFrom(name string, item map[string]json.RawMessage) (FieldDefinition, bool) {
	var def FieldDefinition
	rawType, hasType := item["type"]
	if !hasType || json.Unmarshal(rawType, &def.Type) != nil {
		return def, false
	}
	def.Type = FieldType(strings.ToLower(strings.TrimSpace(string(def.Type))))
	if name == "" {
		if json.Unmarshal(item["name"], &name) != nil {
			return def, false
		}
	}
	def.Name = strings.TrimSpace(name)
	if def.Name == "" {
		return def, false
	}
	if rawRequired, ok := item["required"]; ok {
		_ = json.Unmarshal(rawRequired, &def.Required)
	}
	if rawLabel, ok := item["label"]; ok {
		_ = json.Unmarshal(rawLabel, &def.Label)
	}
	return def, true
}

// ValidateValues validates field values against definitions. Values for undefined fields are
// rejected.
func (cv *ContentValidator) ValidateValues(values map[string]any, defs []FieldDefinition) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []ValidationError{}}
	defined := make(map[string]bool, len(defs))

	for _, def := range defs {
		defined[def.Name] = true
		value, exists := values[def.Name]
		if !exists || value == nil {
			if def.Required {
				result.fail(def.Name, fmt.Sprintf("required field '%s' is missing", def.Name), nil)
			}
			continue
		}
		if err := cv.validateFieldType(def.Name, value, def.Type); err != nil {
			result.fail(def.Name, err.Error(), value)
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		if !defined[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		result.fail(name, fmt.Sprintf("field '%s' is not defined in the template", name), values[name])
	}
	return result
}

// Validate checks fieldValues against templateFields. Either may be nil; fieldValues is only
// checked when both are present and the template is recognised.
func (cv *ContentValidator) Validate(templateFields, fieldValues json.RawMessage) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []ValidationError{}}
	defs, ok, err := cv.ParseTemplate(templateFields)
	if err != nil {
		result.fail("templateFields", err.Error(), nil)
		return result
	}

	fieldValues = bytes.TrimSpace(fieldValues)
	if len(fieldValues) == 0 || bytes.Equal(fieldValues, []byte("null")) {
		return result
	}
	if !json.Valid(fieldValues) {
		result.fail("fieldValues", "fieldValues must be valid JSON", nil)
		return result
	}
	if !ok {
		return result
	}

	var values map[string]any
	if err := json.Unmarshal(fieldValues, &values); err != nil {
		result.fail("fieldValues", "fieldValues must be an object keyed by field name", nil)
		return result
	}
	return cv.ValidateValues(values, defs)
}

func (cv *ContentValidator) validateFieldType(fieldName string, value any, expected FieldType) error {
	switch expected {
	case FieldText, FieldSignature:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case FieldEmail:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be an email string, got %T", fieldName, value)
		}
		if _, err := mail.ParseAddress(str); err != nil {
			return fmt.Errorf("field '%s' must be a valid email address", fieldName)
		}
	case FieldDate:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a date string, got %T", fieldName, value)
		}
		if !isDate(str) {
			return fmt.Errorf("field '%s' must be a date (YYYY-MM-DD or RFC3339)", fieldName)
		}
	case FieldNumber:
		if !isNumber(value) {
			return fmt.Errorf("field '%s' must be a number, got %T", fieldName, value)
		}
	case FieldCheckbox:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %T", fieldName, value)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expected)
	}
	return nil
}

func isDate(s string) bool {
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float64, float32, int, int32, int64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil
	default:
		return false
	}
}
