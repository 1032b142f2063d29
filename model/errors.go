package model

import (
	"fmt"
	"strings"

	"github.com/jmgilman/go/errors"
)

// FieldError is one failed constraint. Path is dotted ("billingInfo.taxId",
// "attachments.0.size"); empty for whole-document problems.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Path == "" {
		return f.Message
	}
	return f.Path + ": " + f.Message
}

// ValidationError reports a payload or form input that does not satisfy its
// schema. A server payload failing is a data-integrity problem
// (SCHEMA_VALIDATION_FAILED); a form input failing is INVALID_INPUT.
type ValidationError struct {
	Resource string
	Input    bool
	Issues   []FieldError
}

var _ errors.PlatformError = (*ValidationError)(nil)

func (e *ValidationError) Error() string {
	const show = 3
	parts := make([]string, 0, show)
	for i, is := range e.Issues {
		if i == show {
			break
		}
		parts = append(parts, is.String())
	}
	msg := fmt.Sprintf("model: %s failed validation: %s", e.Resource, strings.Join(parts, "; "))
	if n := len(e.Issues) - show; n > 0 {
		msg += fmt.Sprintf(" (+%d more)", n)
	}
	return msg
}

func (e *ValidationError) Code() errors.ErrorCode {
	if e.Input {
		return errors.CodeInvalidInput
	}
	return errors.CodeSchemaFailed
}

func (e *ValidationError) Classification() errors.ErrorClassification {
	return errors.ClassificationPermanent
}

func (e *ValidationError) Message() string { return e.Error() }

func (e *ValidationError) Context() map[string]interface{} {
	return map[string]interface{}{"resource": e.Resource, "issues": e.Issues}
}

func (e *ValidationError) Unwrap() error { return nil }

// Field returns the first issue at path.
func (e *ValidationError) Field(path string) (FieldError, bool) {
	for _, is := range e.Issues {
		if is.Path == path {
			return is, true
		}
	}
	return FieldError{}, false
}
