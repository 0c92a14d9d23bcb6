package service

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const clockTag = "hhmm"

func newValidator(validate *validator.Validate) *validator.Validate {
	if validate == nil {
		validate = validator.New()
	}
	if err := registerClockValidation(validate, clockTag); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", clockTag, err))
	}
	return validate
}

func registerClockValidation(validate *validator.Validate, tag string) error {
	return validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		_, err := models.ParseClock(fl.Field().String())
		return err == nil
	})
}
