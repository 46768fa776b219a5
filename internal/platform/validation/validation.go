// Package validation wires go-playground/validator with the code-syntax
// tags used by request DTOs and converts its errors into apperr field
// errors keyed by JSON name.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

var (
	icd11Pattern   = regexp.MustCompile(`^[0-9A-HJ-NP-Z][A-HJ-NP-Z][0-9][0-9A-HJ-NP-Z](\.[0-9A-HJ-NP-Z]{1,4})?$`)
	namastePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,31}$`)
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	validate.RegisterValidation("icd11", func(fl validator.FieldLevel) bool {
		return IsICD11Code(fl.Field().String())
	})
	validate.RegisterValidation("namaste", func(fl validator.FieldLevel) bool {
		return IsNAMASTECode(fl.Field().String())
	})
	validate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
}

// NormalizeICD11 strips an optional "ICD11:" prefix and uppercases the code.
func NormalizeICD11(code string) string {
	code = strings.TrimSpace(code)
	if len(code) >= 6 && strings.EqualFold(code[:6], "ICD11:") {
		code = code[6:]
	}
	return strings.ToUpper(code)
}

// IsICD11Code reports whether code is an ICD-11 MMS or TM2 stem code,
// optionally with an extension after a dot.
func IsICD11Code(code string) bool {
	return icd11Pattern.MatchString(NormalizeICD11(code))
}

// IsNAMASTECode reports whether code has NAMASTE code syntax.
func IsNAMASTECode(code string) bool {
	return namastePattern.MatchString(strings.TrimSpace(code))
}

// Struct validates s and returns an *apperr.ValidationError listing every
// failing field, or nil.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &apperr.ValidationError{}
	for _, fe := range verrs {
		out.Add(fieldPath(fe), "%s", message(fe))
	}
	return out
}

// fieldPath drops the top-level struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "icd11":
		return "is not a valid ICD-11 code"
	case "namaste":
		return "is not a valid NAMASTE code"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}
