package validator

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	hhmmRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		return dateRe.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmmRe.MatchString(fl.Field().String())
	})
}

// Validate struct fields
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Field()] = e.Tag()
	}
	return out
}
