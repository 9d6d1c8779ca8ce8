package validation

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marketlens/marketlens/pkg/errs"
)

var (
	validate = validator.New()

	symbolPattern = regexp.MustCompile(`^[A-Z]{1,10}$`)
	queryPattern  = regexp.MustCompile(`^[A-Za-z0-9 .\-&']{1,50}$`)
)

func init() {
	validate.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return symbolPattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
	})
}

// NormalizeSymbol trims and uppercases raw and checks it against the ticker
// format, through the same "symbol" validation struct tags use. This runs
// before any cache or network access.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if err := validate.Var(s, "symbol"); err != nil {
		return "", errs.InvalidInput("invalid symbol %q: must be 1-10 letters", raw)
	}
	return s, nil
}

// NormalizeQuery trims raw and bounds its length/charset for search.
func NormalizeQuery(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	if !queryPattern.MatchString(q) {
		return "", errs.InvalidInput("invalid search query %q", raw)
	}
	return q, nil
}

// ValidateStruct runs tag-based validation and converts the first failure to
// the service's error taxonomy.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		f := verrs[0]
		return errs.InvalidInput("field %s failed %s validation", f.Field(), f.Tag())
	}
	return errs.InvalidInput("invalid request: %v", err)
}
