// Package envcfg loads configuration structs from environment-variable-style
// key/value pairs, driven by `env:"VAR=default"` struct tags. It generalizes
// the config loader used throughout the AAL-PIP processes so each binary's
// Config type only has to declare its fields and defaults.
package envcfg

import (
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Unmarshal unmarshals the environment-style assignments in es ("KEY=value")
// into the struct pointed to by v, using the env struct tag on each field:
// `env:"VAR=default"`. A trailing "?" on VAR (i.e. "VAR?=default") allows the
// variable to be explicitly set to an empty string; otherwise an empty value
// falls back to the default.
//
// If incremental is true, fields whose variable is absent from es keep their
// current value instead of being reset to the default. This lets a process
// re-apply a partial environment (e.g. on SIGHUP) without clobbering fields
// that were only ever set once at startup.
func Unmarshal(v any, es []string, incremental bool) error {
	em := make(map[string]string, len(es))
	for _, e := range es {
		if k, val, ok := strings.Cut(e, "="); ok {
			em[k] = val
		}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("envcfg: Unmarshal requires a pointer to a struct, got %T", v)
	}
	cv := rv.Elem()

	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		tag, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, def, _ := strings.Cut(tag, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}

		val := def
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		cvf := cv.FieldByName(ctf.Name)
		if err := setField(cvf, key, val); err != nil {
			return err
		}
	}
	return nil
}

func setField(cvf reflect.Value, key, val string) error {
	switch cvf.Interface().(type) {
	case string:
		cvf.SetString(val)
	case int, int8, int16, int32, int64:
		if val == "" {
			cvf.SetInt(0)
		} else if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cvf.SetInt(n)
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	case uint, uint8, uint16, uint32, uint64:
		if val == "" {
			cvf.SetUint(0)
		} else if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			cvf.SetUint(n)
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	case bool:
		if val == "" {
			cvf.SetBool(false)
		} else if b, err := strconv.ParseBool(val); err == nil {
			cvf.SetBool(b)
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	case float32, float64:
		if val == "" {
			cvf.SetFloat(0)
		} else if f, err := strconv.ParseFloat(val, 64); err == nil {
			cvf.SetFloat(f)
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	case []string:
		if val == "" {
			cvf.Set(reflect.ValueOf([]string{}))
		} else {
			cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
		}
	case time.Duration:
		if d, err := time.ParseDuration(val); err == nil {
			cvf.Set(reflect.ValueOf(d))
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	case zerolog.Level:
		if l, err := zerolog.ParseLevel(val); err == nil {
			cvf.Set(reflect.ValueOf(l))
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	case fs.FileMode:
		if val == "" {
			cvf.Set(reflect.ValueOf(fs.FileMode(0)))
		} else if n, err := strconv.ParseUint(val, 8, 32); err == nil {
			cvf.Set(reflect.ValueOf(fs.FileMode(n)))
		} else {
			return fmt.Errorf("env %s (%s): parse %q: %w", key, cvf.Type(), val, err)
		}
	default:
		return fmt.Errorf("envcfg: unhandled field type %s for env %s", cvf.Type(), key)
	}
	return nil
}
