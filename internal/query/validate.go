package query

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/game"
)

var ecoCode = regexp.MustCompile(`^[A-Ea-e][0-9]{2}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("eco", func(fl validator.FieldLevel) bool {
		return ecoCode.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("gamedate", func(fl validator.FieldLevel) bool {
		_, ok := game.ParseDate(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("result", func(fl validator.FieldLevel) bool {
		return game.ParseResult(fl.Field().String()) != game.ResultUnknown
	})
	return v
}

// validationError turns validator output into one caller-safe message.
func validationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Validation("invalid request")
	}
	var details strings.Builder
	for _, fe := range errs {
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		switch fe.Tag() {
		case "nonblank":
			fmt.Fprintf(&details, "%s must not be empty", fe.Field())
		case "max":
			fmt.Fprintf(&details, "%s must be at most %s characters", fe.Field(), fe.Param())
		case "gte", "min":
			fmt.Fprintf(&details, "%s must be at least %s", fe.Field(), fe.Param())
		case "eco":
			fmt.Fprintf(&details, "%s must be an ECO code like B90", fe.Field())
		case "result":
			fmt.Fprintf(&details, "%s must be one of 1-0, 0-1, 1/2-1/2, white, black, draw", fe.Field())
		case "gamedate":
			fmt.Fprintf(&details, "%s must be a date like 2012.06.15", fe.Field())
		default:
			fmt.Fprintf(&details, "%s is invalid", fe.Field())
		}
	}
	return apperr.Validation(details.String())
}
