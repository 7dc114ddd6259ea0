package referee

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/seido/portal/core"
)

var (
	ruleCategoryTag  = "rulecategory"
	ruleCategoryText = "invalid rule category"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(ruleCategoryTag, func(fl validator.FieldLevel) bool {
		return core.ContainsString(RuleCategories, fl.Field().String())
	})
	core.RegisterCustomTranslation(validate, translator, ruleCategoryTag, ruleCategoryText)
}
