/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

// ErrDstMustBeStructPointer indicates that the destination must be a non-nil
// pointer to a struct.
var ErrDstMustBeStructPointer = errors.New("dst must be a non-nil pointer to a struct")

// EnvConfigLoader loads configuration from environment variables. Variable
// names derive from json tags, uppercased and joined with underscores for
// nested structs: with prefix DVRSYNC_, the settings.path field reads from
// DVRSYNC_SETTINGS_PATH. A complete JSON payload in <prefix>CONFIG_JSON
// seeds the struct before individual variables are applied on top.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader creates an environment variable config loader.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
	}
}

// Load implements ConfigLoader. The path argument is ignored. Unset
// variables leave their fields untouched; a variable that is set but does
// not parse is an error.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if payload := os.Getenv(e.prefix + "CONFIG_JSON"); payload != "" {
		if err := json.Unmarshal([]byte(payload), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		if e.logger != nil {
			e.logger.Info().Msg("Seeded configuration from CONFIG_JSON")
		}
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeStructPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrDstMustBeStructPointer
	}

	return e.loadStruct(v, e.prefix)
}

func (e *EnvConfigLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, ok := jsonFieldName(t.Field(i))
		if !ok {
			continue
		}

		if err := e.setField(field, prefix+strings.ToUpper(name)); err != nil {
			return err
		}
	}

	return nil
}

// jsonFieldName extracts the wire name from a field's json tag. Untagged and
// json:"-" fields are not addressable from the environment.
func jsonFieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return "", false
	}

	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return "", false
	}

	return name, true
}

func (e *EnvConfigLoader) setField(field reflect.Value, envName string) error {
	if field.Kind() == reflect.Struct {
		// A JSON payload in the struct's own variable loads first; the
		// per-field variables then override individual entries.
		if value := os.Getenv(envName); value != "" {
			if err := json.Unmarshal([]byte(value), field.Addr().Interface()); err != nil {
				return fmt.Errorf("invalid JSON value for %s: %w", envName, err)
			}
		}

		return e.loadStruct(field, envName+"_")
	}

	if field.Kind() == reflect.Ptr {
		return e.setPtrField(field, envName)
	}

	value := os.Getenv(envName)
	if value == "" {
		return nil
	}

	if err := e.assign(field, envName, value); err != nil {
		return err
	}

	if e.logger != nil {
		// Values stay out of the log; variables commonly hold credentials.
		e.logger.Debug().Str("env", envName).Msg("Loaded value from environment variable")
	}

	return nil
}

// setPtrField allocates pointer fields only when the environment actually
// provides a value for them, so absent optional blocks stay nil.
func (e *EnvConfigLoader) setPtrField(field reflect.Value, envName string) error {
	if field.Type().Elem().Kind() == reflect.Struct {
		if field.IsNil() {
			if !envHasPrefix(envName + "_") {
				return nil
			}

			field.Set(reflect.New(field.Type().Elem()))
		}

		return e.loadStruct(field.Elem(), envName+"_")
	}

	if field.IsNil() {
		if os.Getenv(envName) == "" {
			return nil
		}

		field.Set(reflect.New(field.Type().Elem()))
	}

	return e.setField(field.Elem(), envName)
}

var (
	goDurationType  = reflect.TypeOf(time.Duration(0))
	cfgDurationType = reflect.TypeOf(models.Duration(0))
)

func (e *EnvConfigLoader) assign(field reflect.Value, envName, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", envName, err)
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return setIntValue(field, envName, value)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value for %s: %w", envName, err)
		}

		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", envName, err)
		}

		field.SetFloat(f)
	case reflect.Slice:
		return setSliceValue(field, envName, value)
	default:
		// Maps and anything else unmarshal from JSON.
		if err := json.Unmarshal([]byte(value), field.Addr().Interface()); err != nil {
			return fmt.Errorf("unsupported type %s for %s: %w", field.Kind(), envName, err)
		}
	}

	return nil
}

// setIntValue handles integer fields, accepting duration syntax ("90s") for
// duration-typed fields.
func setIntValue(field reflect.Value, envName, value string) error {
	if field.Type() == goDurationType || field.Type() == cfgDurationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", envName, err)
		}

		field.SetInt(int64(d))

		return nil
	}

	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer value for %s: %w", envName, err)
	}

	field.SetInt(i)

	return nil
}

// setSliceValue parses string slices from comma-separated values and other
// slice types from JSON.
func setSliceValue(field reflect.Value, envName, value string) error {
	if field.Type().Elem().Kind() == reflect.String {
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))

		for i, part := range parts {
			slice.Index(i).SetString(strings.TrimSpace(part))
		}

		field.Set(slice)

		return nil
	}

	if err := json.Unmarshal([]byte(value), field.Addr().Interface()); err != nil {
		return fmt.Errorf("invalid slice value for %s: %w", envName, err)
	}

	return nil
}

func envHasPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}
