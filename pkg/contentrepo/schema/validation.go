package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/exp/constraints"
)

// Validation result codes
const (
	CodeCompulsory           = "Compulsory"
	CodeMinLength            = "MinLength"
	CodeMaxLength            = "MaxLength"
	CodeRegEx                = "RegEx"
	CodeMinValue             = "MinValue"
	CodeMaxValue             = "MaxValue"
	CodeDigits               = "Digits"
	CodeNotValidOption       = "NotValidOption"
	CodeExtraValueNotAllowed = "ExtraValueNotAllowed"
	CodeMultipleNotAllowed   = "MultipleNotAllowed"
	CodeNotAllowedType       = "NotAllowedType"
	CodeOutOfSelectionRoot   = "OutOfSelectionRoot"
	CodeInvalidColor         = "InvalidColor"
	CodeInvalidURL           = "InvalidUrl"
	CodeInvalidRating        = "InvalidRating"
	CodeReadOnly             = "ReadOnly"
)

// ValidationResult describes why a field value is invalid. A nil result means
// the value is valid.
type ValidationResult struct {
	Code   string         `json:"code"`
	Params map[string]any `json:"params,omitempty"`
}

func (r *ValidationResult) Error() string {
	if len(r.Params) == 0 {
		return r.Code
	}
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, r.Params[k]))
	}
	return fmt.Sprintf("%s (%s)", r.Code, strings.Join(parts, ", "))
}

// Invalid builds a ValidationResult from a code and alternating key/value params.
func Invalid(code string, kv ...any) *ValidationResult {
	r := &ValidationResult{Code: code}
	if len(kv) > 0 {
		r.Params = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			r.Params[fmt.Sprint(kv[i])] = kv[i+1]
		}
	}
	return r
}

// fromRule translates an ozzo-validation error into a ValidationResult.
func fromRule(err error, kv ...any) *ValidationResult {
	if err == nil {
		return nil
	}
	var verr validation.Error
	if !errors.As(err, &verr) {
		return Invalid(err.Error(), kv...)
	}
	switch verr.Code() {
	case validation.ErrLengthTooShort.Code():
		return Invalid(CodeMinLength, kv...)
	case validation.ErrLengthTooLong.Code():
		return Invalid(CodeMaxLength, kv...)
	case validation.ErrMatchInvalid.Code():
		return Invalid(CodeRegEx, kv...)
	case validation.ErrMinGreaterEqualThanRequired.Code():
		return Invalid(CodeMinValue, kv...)
	case validation.ErrMaxLessEqualThanRequired.Code():
		return Invalid(CodeMaxValue, kv...)
	case validation.ErrInInvalid.Code():
		return Invalid(CodeNotValidOption, kv...)
	case validation.ErrRequired.Code():
		return Invalid(CodeCompulsory, kv...)
	default:
		return Invalid(verr.Code(), kv...)
	}
}

// checkRange reports MinValue/MaxValue violations for ordered values.
func checkRange[T constraints.Integer | constraints.Float](v T, min, max *T) *ValidationResult {
	if min != nil && v < *min {
		return Invalid(CodeMinValue, "min", *min)
	}
	if max != nil && v > *max {
		return Invalid(CodeMaxValue, "max", *max)
	}
	return nil
}
