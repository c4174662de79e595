package core

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_alphaNumUnderValidation(t *testing.T) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	InitValidators(validate, translator)

	type form struct {
		Username string `json:"username" validate:"alphanum_"`
	}

	tests := []struct {
		value string
		valid bool
	}{
		{"aminata", true},
		{"aminata_k", true},
		{"Aminata42", true},
		{"_", true},
		{"ab cd", false}, // whitespace is not a word character
		{" aminata", false},
		{"aminata\t", false},
		{"ami-nata", false},
		{"ami.nata", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := validate.Struct(form{Username: tt.value})
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			verrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok)
			assert.Equal(t, "username", verrs[0].Field())
		})
	}
}
