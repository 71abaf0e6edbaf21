package errmodel

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryStorage    = "storage"
	CategorySystem     = "system"
)

// Process exit codes returned by ExitCode.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
)

// Error is the compact error payload logged by the CLI and used internally.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Compacter is implemented by domain errors that know their compact form.
type Compacter interface {
	Compact() *Error
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. An *Error anywhere in the chain
// is returned as-is; a Compacter in the chain supplies its own compact form.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var cc Compacter
	if errors.As(err, &cc) {
		if c := cc.Compact(); c != nil {
			return c
		}
	}
	// Default to system/internal for unknown error types.
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Convenience constructors.
func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Storage(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategoryStorage, code, message, ctx, cause)
	}
	return New(CategoryStorage, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if IsCategory(err, CategoryValidation) {
		return ExitValidation
	}
	return ExitFailure
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case int, int64, bool:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				s := string(b)
				if len(s) > 256 {
					s = truncate(s, 256)
				}
				out[k] = s
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}
