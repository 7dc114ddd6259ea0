package grading

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/seido/portal/core"
)

var (
	gradingResultTag  = "gradingresult"
	gradingResultText = "result must be one of Pass or Fail"

	periodStatusTag  = "periodstatus"
	periodStatusText = "status must be one of Upcoming, In Progress, Completed or Cancelled"
)

// InitValidators registers the grading validations & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(gradingResultTag, gradingResultValidation)
	core.RegisterCustomTranslation(validate, translator, gradingResultTag, gradingResultText)

	_ = validate.RegisterValidation(periodStatusTag, periodStatusValidation)
	core.RegisterCustomTranslation(validate, translator, periodStatusTag, periodStatusText)
}

// gradingResultValidation only allows final grading statuses.
func gradingResultValidation(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == StatusPass || s == StatusFail
}

func periodStatusValidation(fl validator.FieldLevel) bool {
	return core.ContainsString(PeriodStatuses, fl.Field().String())
}
