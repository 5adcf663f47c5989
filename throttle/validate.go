package throttle

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var validate *validator.Validate
var translator ut.Translator

func init() {
	validate = validator.New()
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("throttle: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("name")
	})
}

// config is the validated construction input of a Throttle.
type config struct {
	Target           any           `name:"target" validate:"required"`
	RefractoryPeriod time.Duration `name:"refractoryPeriod" validate:"gte=0"`
}

func (c config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	parts := make([]string, len(verrors))
	for i, verror := range verrors {
		parts[i] = verror.Field() + ": " + customErrForTag(verror.Tag(), verror)
	}

	return fieldErrors(strings.Join(parts, "; "))
}

type fieldErrors string

func (fe fieldErrors) Error() string {
	return string(fe)
}

func customErrForTag(tag string, verror validator.FieldError) string {
	switch tag {
	case "required":
		return "a target function is required"
	case "gte":
		return "must not be negative"
	default:
		return verror.Translate(translator)
	}
}
