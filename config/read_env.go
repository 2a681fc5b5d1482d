package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const TagName = "env"

var lookupEnv = os.LookupEnv

var durationType = reflect.TypeOf(time.Duration(0))

var parsers = map[reflect.Kind]func(fv reflect.Value, in string) error{
	reflect.Int:   func(fv reflect.Value, in string) error { return setInt(fv, in, 0) },
	reflect.Int8:  func(fv reflect.Value, in string) error { return setInt(fv, in, 8) },
	reflect.Int16: func(fv reflect.Value, in string) error { return setInt(fv, in, 16) },
	reflect.Int32: func(fv reflect.Value, in string) error { return setInt(fv, in, 32) },
	reflect.Int64: func(fv reflect.Value, in string) error { return setInt(fv, in, 64) },

	reflect.Uint:   func(fv reflect.Value, in string) error { return setUInt(fv, in, 0) },
	reflect.Uint8:  func(fv reflect.Value, in string) error { return setUInt(fv, in, 8) },
	reflect.Uint16: func(fv reflect.Value, in string) error { return setUInt(fv, in, 16) },
	reflect.Uint32: func(fv reflect.Value, in string) error { return setUInt(fv, in, 32) },
	reflect.Uint64: func(fv reflect.Value, in string) error { return setUInt(fv, in, 64) },

	reflect.Float32: func(fv reflect.Value, in string) error { return setFloat(fv, in, 32) },
	reflect.Float64: func(fv reflect.Value, in string) error { return setFloat(fv, in, 64) },

	reflect.String: func(fv reflect.Value, in string) error {
		fv.SetString(in)
		return nil
	},
	reflect.Bool: func(fv reflect.Value, in string) error {
		b, err := strconv.ParseBool(in)
		if err != nil {
			return err
		}
		fv.SetBool(b)
		return nil
	},
	reflect.Slice: setStrings,
}

// Parse fills conf from environment variables.
//
// Fields are bound with the `env` tag. A `default` tag is used when the
// variable is unset or empty, and `required:"true"` turns a missing value
// into an error. Untagged struct fields (or pointers to structs) are parsed
// recursively.
func Parse[T any](conf *T) error {
	if conf == nil {
		return errors.New("config: nil conf")
	}

	cVal := reflect.ValueOf(conf).Elem()
	if cVal.Kind() != reflect.Struct {
		return fmt.Errorf("conf type %v is not struct", cVal.Type())
	}

	return parseStruct(cVal)
}

func parseStruct(cVal reflect.Value) error {
	cType := cVal.Type()

	for i := 0; i < cType.NumField(); i++ {
		field := cType.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldVal := cVal.Field(i)

		varName, ok := field.Tag.Lookup(TagName)
		if !ok {
			if err := parseNested(fieldVal); err != nil {
				return err
			}
			continue
		}

		value, ok := lookupEnv(varName)
		if !ok || value == "" {
			value = field.Tag.Get("default")
		}
		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("environment variable %s is required", varName)
			}
			continue
		}

		if err := setValue(fieldVal, value); err != nil {
			return fmt.Errorf("can't parse env %s: %w", varName, err)
		}
	}

	return nil
}

func parseNested(fieldVal reflect.Value) error {
	switch {
	case fieldVal.Kind() == reflect.Struct:
		return parseStruct(fieldVal)

	case fieldVal.Kind() == reflect.Ptr && fieldVal.Type().Elem().Kind() == reflect.Struct:
		if fieldVal.IsNil() {
			fieldVal.Set(reflect.New(fieldVal.Type().Elem()))
		}
		return parseStruct(fieldVal.Elem())
	}

	return nil
}

func setValue(fieldVal reflect.Value, in string) error {
	if fieldVal.Kind() == reflect.Ptr {
		if fieldVal.IsNil() {
			fieldVal.Set(reflect.New(fieldVal.Type().Elem()))
		}
		fieldVal = fieldVal.Elem()
	}

	if fieldVal.Type() == durationType {
		d, err := time.ParseDuration(in)
		if err != nil {
			return err
		}
		fieldVal.SetInt(int64(d))
		return nil
	}

	parse, ok := parsers[fieldVal.Kind()]
	if !ok {
		return fmt.Errorf("unsupported type %v", fieldVal.Type())
	}

	return parse(fieldVal, in)
}

func setInt(fVal reflect.Value, input string, bitSize int) error {
	n, err := strconv.ParseInt(input, 10, bitSize)
	if err != nil {
		return err
	}

	fVal.SetInt(n)
	return nil
}

func setUInt(fVal reflect.Value, input string, bitSize int) error {
	n, err := strconv.ParseUint(input, 10, bitSize)
	if err != nil {
		return err
	}

	fVal.SetUint(n)
	return nil
}

func setFloat(fVal reflect.Value, input string, bitSize int) error {
	n, err := strconv.ParseFloat(input, bitSize)
	if err != nil {
		return err
	}

	fVal.SetFloat(n)
	return nil
}

// setStrings handles comma separated lists, e.g. BROWSE_REQUIRED=kind,city.
func setStrings(fVal reflect.Value, input string) error {
	if fVal.Type().Elem().Kind() != reflect.String {
		return fmt.Errorf("unsupported type %v", fVal.Type())
	}

	var items []string
	for _, s := range strings.Split(input, ",") {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}

	fVal.Set(reflect.ValueOf(items).Convert(fVal.Type()))
	return nil
}
