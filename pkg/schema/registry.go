// Package schema validates every structured LLM response against a
// registered, versioned Go struct before it is allowed to become a
// persisted artifact. No unvalidated output is ever stored.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ideapanel/ideapanel/pkg/apierr"
)

// Name identifies one of the three structured response types produced by
// the LLM client.
type Name string

const (
	NameExpandedProposal   Name = "ExpandedProposal"
	NamePersonaReview      Name = "PersonaReview"
	NameDecisionAggregation Name = "DecisionAggregation"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// ValidationError is the error returned when a structured LLM output fails
// schema validation. It carries enough context to log and to surface via
// apierr.KindSchemaValidation without re-deriving the field list.
type ValidationError struct {
	SchemaName    Name
	SchemaVersion string
	RequestID     string
	Fields        []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s@%s: %d field error(s)",
		e.SchemaName, e.SchemaVersion, len(e.Fields))
}

// AsAPIError converts a ValidationError into the shared error envelope.
func (e *ValidationError) AsAPIError() *apierr.Error {
	details := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		details[f.Field] = f.Message
	}
	return &apierr.Error{
		Kind:      apierr.KindSchemaValidation,
		Message:   e.Error(),
		RequestID: e.RequestID,
		Details:   details,
		Cause:     e,
	}
}

// entry is one registered schema: its current semantic version plus the Go
// type instances are validated against.
type entry struct {
	version string
	typ     reflect.Type
}

// Registry validates instances of registered response types. The zero value
// is not usable; construct with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Name]entry
	validate *validator.Validate
}

// NewRegistry builds an empty Registry; NewDefaultRegistry seeds it with the
// three current (1.0.0) response schemas.
func NewRegistry() *Registry {
	r := &Registry{
		entries:  make(map[Name]entry),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	return r
}

// Register adds or replaces the schema for name at the given semantic
// version, using a zero value of sample's type as the shape to validate
// future instances against.
func (r *Registry) Register(name Name, version string, sample any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{version: version, typ: reflect.TypeOf(sample)}
}

// CurrentVersion returns the registered semantic version for name, or false
// if name is unregistered.
func (r *Registry) CurrentVersion(name Name) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.version, ok
}

// CheckVersion verifies that the caller-pinned version for name matches the
// currently registered one. An unknown name or version mismatch is
// UNSUPPORTED_VERSION (spec §7), matching X-Schema-Version header pinning.
func (r *Registry) CheckVersion(name Name, pinned string) error {
	current, ok := r.CurrentVersion(name)
	if !ok {
		return apierr.New(apierr.KindUnsupportedVersion, fmt.Sprintf("unknown schema %q", name))
	}
	if pinned != "" && pinned != current {
		return apierr.New(apierr.KindUnsupportedVersion,
			fmt.Sprintf("schema %q version %q is not supported (current %q)", name, pinned, current))
	}
	return nil
}

// Validate runs struct-tag validation over instance, which must be of the
// type registered for name. It returns a *ValidationError (never a bare
// validator error) so callers can translate it uniformly.
func (r *Registry) Validate(name Name, instance any, requestID string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return apierr.New(apierr.KindUnsupportedVersion, fmt.Sprintf("unknown schema %q", name))
	}

	if got := reflect.TypeOf(instance); got != e.typ {
		return &ValidationError{
			SchemaName:    name,
			SchemaVersion: e.version,
			RequestID:     requestID,
			Fields: []FieldError{{
				Field:   "$",
				Message: fmt.Sprintf("expected instance of %s, got %s", e.typ, got),
				Kind:    "type_mismatch",
			}},
		}
	}

	if err := r.validate.Struct(instance); err != nil {
		var verrs validator.ValidationErrors
		if !asValidationErrors(err, &verrs) {
			return &ValidationError{
				SchemaName:    name,
				SchemaVersion: e.version,
				RequestID:     requestID,
				Fields: []FieldError{{
					Field:   "$",
					Message: err.Error(),
					Kind:    "unknown",
				}},
			}
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   jsonFieldPath(fe.Namespace()),
				Message: fe.Error(),
				Kind:    fe.Tag(),
			})
		}
		return &ValidationError{
			SchemaName:    name,
			SchemaVersion: e.version,
			RequestID:     requestID,
			Fields:        fields,
		}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

// jsonFieldPath strips the leading "TypeName." namespace prefix validator
// attaches, leaving a dotted field path suitable for client display.
func jsonFieldPath(namespace string) string {
	parts := strings.SplitN(namespace, ".", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return namespace
}
