package handler

import (
	"regexp"

	"crm/pkg/validator"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func ResourceNameValidator(optional bool) validator.Validator {
	return &validator.String{
		Optional: optional,
		MinLen:   1,
		MaxLen:   120,
	}
}

func EmailValidator(optional bool) validator.Validator {
	return &validator.String{
		Optional: optional,
		MaxLen:   320,
		Regex:    emailRegex,
	}
}

func PasswordValidator(optional bool) validator.Validator {
	return &validator.String{
		Optional: optional,
		MinLen:   8,
		MaxLen:   128,
	}
}
