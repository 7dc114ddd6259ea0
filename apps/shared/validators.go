package shared

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/referee"
	"github.com/seido/portal/core/user"
)

// NewValidator returns a validator with the english translator and every app validation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	grading.InitValidators(validate, translator)
	referee.InitValidators(validate, translator)
	return validate, translator
}
