package lifecycle

import (
	"errors"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	auth "github.com/shreegurucool/auth-go"
)

// SignupForm is the registration form as entered by the user.
type SignupForm struct {
	Name            string    `json:"name" validate:"notblank"`
	Email           string    `json:"email" validate:"required,email"`
	Password        string    `json:"password" validate:"strongpwd"`
	ConfirmPassword string    `json:"confirmPassword" validate:"eqfield=Password"`
	Role            auth.Role `json:"role" validate:"omitempty,oneof=student mentor admin"`
}

// Form messages.
const (
	MsgWeakPassword     = "Password does not meet requirements"
	MsgPasswordMismatch = "Passwords do not match"
)

const (
	notBlankTag  = "notblank"
	strongPwdTag = "strongpwd"
)

type formValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newFormValidator() *formValidator {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation(strongPwdTag, func(fl validator.FieldLevel) bool {
		return StrongPassword(fl.Field().String())
	})

	return &formValidator{validate: v, translator: translator}
}

// check returns the first problem with f as a *auth.ValidationError, or nil.
func (fv *formValidator) check(f SignupForm) error {
	err := fv.validate.Struct(f)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) || len(vErrs) == 0 {
		return &auth.ValidationError{Message: err.Error()}
	}
	fe := vErrs[0]
	return &auth.ValidationError{Field: fe.Field(), Message: fv.message(fe)}
}

func (fv *formValidator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case strongPwdTag:
		return MsgWeakPassword
	case notBlankTag:
		return fe.Field() + " is required"
	case "eqfield":
		if fe.StructField() == "ConfirmPassword" {
			return MsgPasswordMismatch
		}
	}
	return fe.Translate(fv.translator)
}

// StrongPassword reports whether p has at least 8 characters including an
// upper-case letter, a digit and a character that is neither letter nor digit.
func StrongPassword(p string) bool {
	if utf8.RuneCountInString(p) < 8 {
		return false
	}
	var upper, digit, special bool
	for _, r := range p {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
		default:
			special = true
		}
	}
	return upper && digit && special
}

// validOTP reports whether code is exactly six ASCII digits.
func validOTP(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
