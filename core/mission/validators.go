package mission

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/sierrawings/backend/core"
)

var (
	validate *validator.Validate

	priorityTag  = "priority"
	priorityText = "invalid priority"
)

// InitValidators registers this package's custom validators. Must be called
// once at startup after core.InitValidators.
func InitValidators(v *validator.Validate, translator ut.Translator) {
	validate = v

	_ = v.RegisterValidation(priorityTag, priorityValidation)
	core.RegisterCustomTranslation(v, translator, priorityTag, priorityText)
}

func (nm NewMission) Validate() error {
	return validate.Struct(nm)
}

func priorityValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, p := range allPriorities {
		if p == val {
			return true
		}
	}
	return false
}
