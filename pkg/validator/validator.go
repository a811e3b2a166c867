package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Validator checks a single request field. Implementations receive the
// field value as it appears in the request struct (usually a pointer).
type Validator interface {
	Validate(value interface{}) error
}

type StringFunc func(s string) error

type String struct {
	Optional   bool
	MinLen     int
	MaxLen     int
	Regex      *regexp.Regexp
	Validators []StringFunc
}

func (v *String) Validate(value interface{}) error {
	s, ok, err := toString(value)
	if err != nil {
		return err
	}

	if !ok {
		if v.Optional {
			return nil
		}
		return errors.New("is required")
	}

	if len(s) < v.MinLen {
		return fmt.Errorf("must be at least %d characters", v.MinLen)
	}

	if v.MaxLen > 0 && len(s) > v.MaxLen {
		return fmt.Errorf("must be at most %d characters", v.MaxLen)
	}

	if v.Regex != nil && !v.Regex.MatchString(s) {
		return errors.New("has invalid format")
	}

	for _, fn := range v.Validators {
		if err := fn(s); err != nil {
			return err
		}
	}

	return nil
}

type UInt64 struct {
	Optional bool
	Min      *uint64
	Max      *uint64
}

func (v *UInt64) Validate(value interface{}) error {
	i, ok, err := toUint64(value)
	if err != nil {
		return err
	}

	if !ok {
		if v.Optional {
			return nil
		}
		return errors.New("is required")
	}

	if v.Min != nil && i < *v.Min {
		return fmt.Errorf("must be >= %d", *v.Min)
	}

	if v.Max != nil && i > *v.Max {
		return fmt.Errorf("must be <= %d", *v.Max)
	}

	return nil
}

type UInt32 struct {
	Optional bool
	Min      *uint32
	Max      *uint32
}

func (v *UInt32) Validate(value interface{}) error {
	u64 := &UInt64{Optional: v.Optional}
	if v.Min != nil {
		min := uint64(*v.Min)
		u64.Min = &min
	}
	if v.Max != nil {
		max := uint64(*v.Max)
		u64.Max = &max
	}
	return u64.Validate(value)
}

type Bool struct {
	Optional bool
}

func (v *Bool) Validate(value interface{}) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
		if v.Optional {
			return nil
		}
		return errors.New("is required")
	}
	return nil
}

type Slice struct {
	Optional  bool
	MinLen    int
	MaxLen    int
	Validator Validator
}

func (v *Slice) Validate(value interface{}) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.IsNil() {
		if v.Optional {
			return nil
		}
		return errors.New("is required")
	}

	if rv.Kind() != reflect.Slice {
		return errors.New("expect a slice")
	}

	if rv.Len() < v.MinLen {
		return fmt.Errorf("must have at least %d elements", v.MinLen)
	}

	if v.MaxLen > 0 && rv.Len() > v.MaxLen {
		return fmt.Errorf("must have at most %d elements", v.MaxLen)
	}

	if v.Validator != nil {
		for i := 0; i < rv.Len(); i++ {
			if err := v.Validator.Validate(rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("element %d %v", i, err)
			}
		}
	}

	return nil
}

// Form validates a request struct field by field. Fields are matched by
// their json tag, falling back to the schema tag, then the field name.
type Form struct {
	validators map[string]Validator
}

func MustForm(validators map[string]Validator) *Form {
	if len(validators) == 0 {
		panic("form validator must have at least one field")
	}
	return &Form{validators: validators}
}

func (f *Form) Validate(value interface{}) error {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return errors.New("expect a struct")
		}
		rv = rv.Elem()
	}

	if rv.Kind() != reflect.Struct {
		return errors.New("expect a struct")
	}

	rt := rv.Type()
	seen := make(map[string]bool, len(f.validators))
	for i := 0; i < rt.NumField(); i++ {
		name := fieldName(rt.Field(i))
		v, ok := f.validators[name]
		if !ok {
			continue
		}
		seen[name] = true

		if err := v.Validate(fieldValue(rv.Field(i))); err != nil {
			return fmt.Errorf("%s %v", name, err)
		}
	}

	for name := range f.validators {
		if !seen[name] {
			return fmt.Errorf("unknown field %s", name)
		}
	}

	return nil
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "schema"} {
		if v, ok := f.Tag.Lookup(tag); ok {
			if name := strings.Split(v, ",")[0]; name != "" && name != "-" {
				return name
			}
		}
	}
	return f.Name
}

func fieldValue(rv reflect.Value) interface{} {
	// structs are passed by address so validators can share one signature
	if rv.Kind() == reflect.Struct && rv.CanAddr() {
		return rv.Addr().Interface()
	}
	return rv.Interface()
}

func toString(value interface{}) (string, bool, error) {
	switch v := value.(type) {
	case string:
		return v, true, nil
	case *string:
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	default:
		return "", false, errors.New("expect a string")
	}
}

func toUint64(value interface{}) (uint64, bool, error) {
	switch v := value.(type) {
	case uint64:
		return v, true, nil
	case *uint64:
		if v == nil {
			return 0, false, nil
		}
		return *v, true, nil
	case uint32:
		return uint64(v), true, nil
	case *uint32:
		if v == nil {
			return 0, false, nil
		}
		return uint64(*v), true, nil
	default:
		return 0, false, errors.New("expect an unsigned integer")
	}
}
