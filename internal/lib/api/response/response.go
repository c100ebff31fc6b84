package response

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Response struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

func OK() Response {
	return Response{Status: StatusOK}
}

func Message(msg string) Response {
	return Response{Status: StatusOK, Message: msg}
}

func Error(msg string) Response {
	return Response{Status: StatusError, Message: msg}
}

// FieldErrors wraps pre-built per-field messages into an error response.
func FieldErrors(errs map[string][]string) Response {
	return Response{
		Status:  StatusError,
		Message: "The given data was invalid.",
		Errors:  errs,
	}
}

// ValidationError converts validator tag failures into per-field messages.
func ValidationError(errs validator.ValidationErrors) Response {
	return FieldErrors(Fields(errs))
}

// Fields maps validator tag failures to per-field messages, for handlers
// that need to merge in extra rules before responding.
func Fields(errs validator.ValidationErrors) map[string][]string {
	fields := make(map[string][]string)

	for _, err := range errs {
		field := jsonField(err)

		var msg string
		switch err.ActualTag() {
		case "required":
			msg = fmt.Sprintf("%s is a required field", field)
		case "email":
			msg = fmt.Sprintf("%s must be a valid email address", field)
		case "max":
			msg = fmt.Sprintf("%s must be at most %s characters", field, err.Param())
		case "eqfield":
			msg = "password confirmation does not match"
		default:
			msg = fmt.Sprintf("%s is not valid", field)
		}

		fields[field] = append(fields[field], msg)
	}

	return fields
}

func jsonField(err validator.FieldError) string {
	// Namespace is Request.FieldName, we want the json-ish lowercase name.
	parts := strings.Split(err.Namespace(), ".")
	name := parts[len(parts)-1]

	switch name {
	case "PasswordConfirmation":
		return "password_confirmation"
	default:
		return strings.ToLower(name)
	}
}
