package definition

import (
	"errors"
	"fmt"
)

// MissingParameterError is returned when a required placeholder has neither a
// caller-supplied value nor a template default.
type MissingParameterError struct {
	Parameter string // The placeholder that could not be resolved
	Template  string // Name of the template being built
}

// Error implements the error interface.
func (e *MissingParameterError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("missing required parameter %q", e.Parameter)
	}
	return fmt.Sprintf("missing required parameter %q for template %s", e.Parameter, e.Template)
}

// NewMissingParameterError creates a new MissingParameterError.
func NewMissingParameterError(parameter, template string) *MissingParameterError {
	return &MissingParameterError{Parameter: parameter, Template: template}
}

// TemplateSyntaxError reports a placeholder the substitution engine cannot
// handle: unknown names, malformed names or an unterminated brace.
type TemplateSyntaxError struct {
	Template    string // Name of the template
	Placeholder string // Offending placeholder text, if any
	Offset      int    // Byte offset of the opening brace
	Reason      string
}

// Error implements the error interface.
func (e *TemplateSyntaxError) Error() string {
	if e.Placeholder == "" {
		return fmt.Sprintf("template %s: %s at offset %d", e.Template, e.Reason, e.Offset)
	}
	return fmt.Sprintf("template %s: %s %q at offset %d", e.Template, e.Reason, e.Placeholder, e.Offset)
}

// InvalidEnvironmentError is returned for environment entries that are not KEY=VALUE.
type InvalidEnvironmentError struct {
	Entry string
}

// Error implements the error interface.
func (e *InvalidEnvironmentError) Error() string {
	return fmt.Sprintf("invalid environment entry %q: expected KEY=VALUE", e.Entry)
}

// IsMissingParameterError checks if an error is a MissingParameterError.
func IsMissingParameterError(err error) bool {
	var target *MissingParameterError
	return errors.As(err, &target)
}

// IsTemplateSyntaxError checks if an error is a TemplateSyntaxError.
func IsTemplateSyntaxError(err error) bool {
	var target *TemplateSyntaxError
	return errors.As(err, &target)
}
