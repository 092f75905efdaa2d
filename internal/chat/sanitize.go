package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// strict removes every element and attribute. Policies are safe for concurrent use.
var strict = bluemonday.StrictPolicy()

var validate = newValidator()

// Sanitize strips markup from s and trims surrounding whitespace.
// Text that needs escaping (such as "&") comes back entity-escaped.
func Sanitize(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}

// MessageInput is the user-controlled content of a message.
type MessageInput struct {
	To   string             `json:"to" validate:"required,max=100"`
	Text string             `json:"text" validate:"required"`
	Type models.MessageType `json:"type" validate:"required,oneof=message private_message"`
}

func (in MessageInput) sanitized() MessageInput {
	return MessageInput{
		To:   Sanitize(in.To),
		Text: Sanitize(in.Text),
		Type: models.MessageType(Sanitize(string(in.Type))),
	}
}

type registration struct {
	Name string `json:"name" validate:"required,max=100"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// invalid validates v and converts failures to an InvalidArgument error.
func invalid(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: KindInvalidArgument, Message: "invalid input", Cause: err}
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", fe.Field())
		}
	})
	return newError(KindInvalidArgument, strings.Join(msgs, "; "))
}
