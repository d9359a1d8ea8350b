package pharmadesk

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate *validator.Validate
var uniTrans *ut.UniversalTranslator

func registerMessage(trans ut.Translator, tag, text string) {
	validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, text, true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(tag, fe.Field())
		return t
	})
}

func init() {
	validate = validator.New()
	en := en.New()
	uniTrans = ut.New(en, en)
	enTrans, _ := uniTrans.GetTranslator("en")

	// json name of the field, or its lowercased go name
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := strings.Split(field.Tag.Get("json"), ",")[0]; name != "" && name != "-" {
			return name
		}
		return strings.ToLower(field.Name)
	})

	validate.RegisterValidation("port", func(fl validator.FieldLevel) bool {
		port, ok := fl.Field().Interface().(int)
		if !ok {
			return false
		}
		return port > 0 && port <= 65535
	})

	validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	registerMessage(enTrans, "required", "{0} is a required field")
	registerMessage(enTrans, "required_with", "{0} is a required field")
	registerMessage(enTrans, "port", "{0} must be a valid port number")
	registerMessage(enTrans, "cron", "{0} must be a valid cron expression")
	registerMessage(enTrans, "url", "{0} must be a valid url")
	registerMessage(enTrans, "oneof", "{0} has an unsupported value")
	registerMessage(enTrans, "gt", "{0} must be positive")
	registerMessage(enTrans, "gte", "{0} must not be negative")
}
