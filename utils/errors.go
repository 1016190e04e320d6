package utils

import (
	"reflect"

	"github.com/pkg/errors"
)

func typeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<unknown (nil interface)>"
	}
	if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Interface {
		return t.Elem().String()
	}
	return t.String()
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected, actual interface{}) error {
	return errors.Errorf("expected %s but got %s", typeName(expected), typeName(actual))
}

// NewConfigValidationFieldRequiredError is used when a required config field is missing.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return errors.Errorf("%s: %q is required", path, field)
}

// NewConfigValidationError is used when a config field holds an invalid value.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}
