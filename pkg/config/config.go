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

// Package config loads and validates daemon configuration. The default
// source is a JSON file; setting CONFIG_SOURCE=env reads the same structure
// from prefixed environment variables instead.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

const (
	// sourceEnvVar selects the configuration source, "file" (default) or "env".
	sourceEnvVar = "CONFIG_SOURCE"

	// prefixEnvVar overrides the variable prefix used by the env source.
	prefixEnvVar = "CONFIG_ENV_PREFIX"

	defaultEnvPrefix = "DVRSYNC_"
)

// ConfigLoader loads configuration from a source into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configuration structs that check themselves
// after loading. Validate may fill in defaults.
type Validator interface {
	Validate() error
}

// Config manages configuration loading and validation.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig creates a configuration manager. A nil log falls back to a
// console logger so failures before logger setup are still visible.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = createBasicLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        log,
	}
}

// LoadAndValidate loads configuration into dst from the source selected by
// CONFIG_SOURCE, then validates dst when it implements Validator. The file
// source resolves relative TLS paths against the config file's directory;
// the env source reads prefixed variables and ignores path.
func (c *Config) LoadAndValidate(ctx context.Context, path string, dst interface{}) error {
	switch strings.ToLower(os.Getenv(sourceEnvVar)) {
	case "env":
		prefix := os.Getenv(prefixEnvVar)
		if prefix == "" {
			prefix = defaultEnvPrefix
		}

		c.logger.Info().Str("prefix", prefix).Msg("Loading configuration from environment variables")

		loader := NewEnvConfigLoader(c.logger, prefix)
		if err := loader.Load(ctx, path, dst); err != nil {
			return err
		}
	default:
		c.logger.Debug().Str("path", path).Msg("Loading configuration from file")

		if err := c.defaultLoader.Load(ctx, path, dst); err != nil {
			return err
		}

		normalizeTLSPaths(dst, filepath.Dir(path))
	}

	return ValidateConfig(dst)
}

// ValidateConfig validates cfgStruct when it implements Validator.
func ValidateConfig(cfgStruct interface{}) error {
	if validator, ok := cfgStruct.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

var tlsPathsType = reflect.TypeOf(models.TLSPaths{})

// normalizeTLSPaths walks dst looking for models.TLSPaths values and resolves
// their relative entries against baseDir, so config files can reference PEM
// material relative to themselves.
func normalizeTLSPaths(dst interface{}, baseDir string) {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return
	}

	walkTLSPaths(v.Elem(), baseDir)
}

func walkTLSPaths(v reflect.Value, baseDir string) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}

		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	if v.Type() == tlsPathsType {
		if v.CanAddr() {
			NormalizeTLSPaths(v.Addr().Interface().(*models.TLSPaths), baseDir)
		}

		return
	}

	for i := 0; i < v.NumField(); i++ {
		if v.Type().Field(i).IsExported() {
			walkTLSPaths(v.Field(i), baseDir)
		}
	}
}

// NormalizeTLSPaths joins relative PEM paths against baseDir. Absolute paths
// and empty fields are left untouched.
func NormalizeTLSPaths(paths *models.TLSPaths, baseDir string) {
	if paths == nil || baseDir == "" {
		return
	}

	paths.CAFile = resolvePath(paths.CAFile, baseDir)
	paths.CertFile = resolvePath(paths.CertFile, baseDir)
	paths.KeyFile = resolvePath(paths.KeyFile, baseDir)
}

func resolvePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(baseDir, path)
}

// createBasicLogger builds a console logger for use before the configured
// logger exists.
func createBasicLogger() logger.Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)

	return &basicLogger{zl: zl}
}

type basicLogger struct {
	zl zerolog.Logger
}

func (b *basicLogger) Trace() *zerolog.Event { return b.zl.Trace() }
func (b *basicLogger) Debug() *zerolog.Event { return b.zl.Debug() }
func (b *basicLogger) Info() *zerolog.Event  { return b.zl.Info() }
func (b *basicLogger) Warn() *zerolog.Event  { return b.zl.Warn() }
func (b *basicLogger) Error() *zerolog.Event { return b.zl.Error() }
func (b *basicLogger) Fatal() *zerolog.Event { return b.zl.Fatal() }
func (b *basicLogger) Panic() *zerolog.Event { return b.zl.Panic() }
func (b *basicLogger) With() zerolog.Context { return b.zl.With() }

func (b *basicLogger) WithComponent(component string) zerolog.Logger {
	return b.zl.With().Str("component", component).Logger()
}

func (b *basicLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	return b.zl.With().Fields(fields).Logger()
}

func (b *basicLogger) SetLevel(level zerolog.Level) { b.zl = b.zl.Level(level) }

func (b *basicLogger) SetDebug(debug bool) {
	if debug {
		b.zl = b.zl.Level(zerolog.DebugLevel)
	} else {
		b.zl = b.zl.Level(zerolog.InfoLevel)
	}
}
