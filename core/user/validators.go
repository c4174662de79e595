package user

import (
	"fmt"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/sierrawings/backend/core"
)

var (
	validate *validator.Validate

	roleTag  = "role"
	roleText = "invalid role"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"
)

// InitValidators registers this package's custom validators. Must be called
// once at startup after core.InitValidators.
func InitValidators(v *validator.Validate, translator ut.Translator) {
	validate = v

	_ = v.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(v, translator, roleTag, roleText)

	v.RegisterStructValidation(userStructValidation, NewUser{})
	v.RegisterStructValidation(userStructValidation, UpdateUser{})
	core.RegisterCustomTranslation(v, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(v, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(v, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(v, translator, pwdAttrSimTag, pwdAttrSimText)
}

func (nu NewUser) Validate() error {
	return validate.Struct(nu)
}

func (uu UpdateUser) Validate() error {
	return validate.Struct(uu)
}

// roleValidation checks that the provided role is assignable.
func roleValidation(fl validator.FieldLevel) bool {
	return ValidRole(fl.Field().String())
}

// userStructValidation does struct level validation on NewUser and UpdateUser.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		if !ValidRole(usr.Role) {
			sl.ReportError(usr.Role, "role", "Role", roleTag, "")
		}
		validatePassword(usr.Password, usr.Name, usr.Username, usr.Email, sl)
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(usr.Password, usr.Name, usr.Username, usr.Email, sl)
		}
	}
}

func validatePassword(pwd, name, uname, email string, sl validator.StructLevel) {
	if len(pwd) < pwdMinLen {
		sl.ReportError(pwd, "password", "Password", pwdMinLenTag, "")
	}
	if strings.ContainsAny(pwd, " \t\n") {
		sl.ReportError(pwd, "password", "Password", pwdNoSpaceTag, "")
	}

	allNum := true
	for _, r := range pwd {
		if !unicode.IsDigit(r) {
			allNum = false
			break
		}
	}
	if allNum {
		sl.ReportError(pwd, "password", "Password", pwdNotAllNumTag, "")
	}

	// password cannot be too similar to the user's own attributes
	lowPwd := strings.ToLower(pwd)
	for _, attr := range []string{name, uname, email} {
		if attr == "" {
			continue
		}
		matcher := difflib.NewMatcher(strings.Split(lowPwd, ""), strings.Split(strings.ToLower(attr), ""))
		if matcher.Ratio() >= pwdMaxSim {
			sl.ReportError(pwd, "password", "Password", pwdAttrSimTag, "")
			break
		}
	}
}
