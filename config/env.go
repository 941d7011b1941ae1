package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the first segment of every environment variable.
const EnvPrefix = "ONBOARDING"

type lookupFunc func(key string) (string, bool)

// EnvKeys returns the variables that override settings, in field order.
// A variable is the YAML path of its setting in upper case:
//
//	saga.sweep_interval  → ONBOARDING_SAGA_SWEEP_INTERVAL
//	dedup.redis.address  → ONBOARDING_DEDUP_REDIS_ADDRESS
func EnvKeys() []string {
	var keys []string
	_ = walkSettings(reflect.ValueOf(&Config{}).Elem(), EnvPrefix, func(key string, _ reflect.Value) error {
		keys = append(keys, key)
		return nil
	})
	return keys
}

// applyEnv overwrites every setting of cfg whose variable is set.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	return walkSettings(reflect.ValueOf(cfg).Elem(), EnvPrefix, func(key string, v reflect.Value) error {
		raw, ok := lookup(key)
		if !ok {
			return nil
		}
		if err := parseSetting(v, raw); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		return nil
	})
}

// walkSettings calls fn for each leaf field of a section, skipping fields
// without a yaml name.
func walkSettings(v reflect.Value, prefix string, fn func(key string, v reflect.Value) error) error {
	t := v.Type()
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(name)

		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			if err := walkSettings(fv, key, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(key, fv); err != nil {
			return err
		}
	}
	return nil
}

func parseSetting(v reflect.Value, raw string) error {
	switch v.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
	case string:
		v.SetString(raw)
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported setting type %s", v.Type())
	}
	return nil
}
