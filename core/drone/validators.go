package drone

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// InitValidators registers this package's validators. Must be called once at
// startup after core.InitValidators.
func InitValidators(v *validator.Validate, translator ut.Translator) {
	validate = v
}

func (nd NewDrone) Validate() error {
	return validate.Struct(nd)
}
