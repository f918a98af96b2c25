package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the struct tags and flattens the result into one
// human-readable error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var problems []string
	for _, err := range err.(validator.ValidationErrors) {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			problems = append(problems, field+" is required")
		case "min":
			problems = append(problems, field+" must be at least "+param)
		case "max":
			problems = append(problems, field+" must be at most "+param)
		case "email":
			problems = append(problems, field+" must be a valid email")
		case "gt":
			problems = append(problems, field+" must be greater than "+param)
		default:
			problems = append(problems, field+" is invalid")
		}
	}

	return fmt.Errorf("%s", strings.Join(problems, ", "))
}
