package moderation

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"codex/api/internal/store"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs the validate tags of v and returns a ValidationError
// keyed by JSON field name.
func ValidateStruct(v any) error {
	return structError(validate.Struct(v))
}

// ValidateNewEntry checks a public new-entry submission.
func ValidateNewEntry(data store.NewEntryData) error {
	if err := ValidateStruct(data); err != nil {
		return err
	}
	if strings.TrimSpace(data.Name) == "" {
		return &ValidationError{Message: "name is required", Fields: map[string]string{"name": "required"}}
	}
	if data.Type == store.EntryTypeLexicon && (len(data.Tags) > 0 || data.VideoLink != "") {
		return &ValidationError{Message: "tags and video links only apply to exicon entries"}
	}
	return nil
}

// ValidateEdit checks a public edit submission against the type of the
// entry it targets.
func ValidateEdit(data store.EditEntryData, entryType store.EntryType) error {
	if err := ValidateStruct(data); err != nil {
		return err
	}
	if data.Changes.Empty() {
		return &ValidationError{Message: "at least one change is required"}
	}
	return ValidateChanges(entryType, data.Changes)
}

// ValidateChanges rejects change sets that cannot apply to entryType.
func ValidateChanges(entryType store.EntryType, changes store.Changes) error {
	if changes.Name.Set && strings.TrimSpace(changes.Name.Value) == "" {
		return &ValidationError{Message: "name cannot be blank", Fields: map[string]string{"name": "required"}}
	}
	if entryType == store.EntryTypeLexicon && (changes.Tags.Set || changes.VideoLink.Set) {
		return &ValidationError{Message: "tags and video links only apply to exicon entries"}
	}
	if changes.VideoLink.Set && changes.VideoLink.Value != "" {
		if err := validate.Var(changes.VideoLink.Value, "url,max=500"); err != nil {
			return &ValidationError{Message: "video link must be a URL", Fields: map[string]string{"videoLink": "url"}}
		}
		if u, err := url.Parse(changes.VideoLink.Value); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &ValidationError{Message: "video link must be a URL", Fields: map[string]string{"videoLink": "url"}}
		}
	}
	return nil
}

// ValidateRejection checks the reason given for a rejection.
func ValidateRejection(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Message: "rejection reason is required", Fields: map[string]string{"reason": "required"}}
	}
	return nil
}

func structError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Message: "invalid submission", Fields: fields}
}
