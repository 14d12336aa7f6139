package checkout

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	validator "github.com/go-playground/validator/v10"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]{10,}$`)
)

const minPhoneDigits = 10

// ValidationError maps contact fields to buyer-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range []string{"name", "email", "phone"} {
		if msg, ok := e.Fields[field]; ok {
			parts = append(parts, field+": "+msg)
		}
	}
	return "checkout: " + strings.Join(parts, "; ")
}

var fieldMessages = map[string]map[string]string{
	"name":  {"required": "Name is required"},
	"email": {"required": "Email is required", "depositemail": "Please enter a valid email"},
	"phone": {"required": "Phone number is required", "depositphone": "Please enter a valid phone number"},
}

// NewValidator builds the validator with the deposit contact rules registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("depositemail", func(fl validator.FieldLevel) bool {
		return ValidEmail(fl.Field().String())
	})
	_ = v.RegisterValidation("depositphone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	return v
}

// ContactValidator returns a validate func for Session.SubmitInfo.
func ContactValidator(v *validator.Validate) func(Contact) error {
	return func(c Contact) error {
		err := v.Struct(c)
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			if _, seen := fields[fe.Field()]; seen {
				continue
			}
			msg := fieldMessages[fe.Field()][fe.Tag()]
			if msg == "" {
				msg = "is invalid"
			}
			fields[fe.Field()] = msg
		}
		return &ValidationError{Fields: fields}
	}
}

// ValidEmail applies the storefront email pattern.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidPhone accepts digits with optional leading + and separators, and at
// least ten digits.
func ValidPhone(phone string) bool {
	if !phonePattern.MatchString(phone) {
		return false
	}
	digits := 0
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= minPhoneDigits
}

func (c Contact) normalized() Contact {
	return Contact{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.TrimSpace(c.Email),
		Phone: strings.TrimSpace(c.Phone),
	}
}
