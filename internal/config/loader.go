package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvError reports an environment variable whose value does not fit the
// field it overrides.
type EnvError struct {
	Var   string
	Value string
	Want  string
}

func (e *EnvError) Error() string {
	return fmt.Sprintf("%s=%q: expected %s", e.Var, e.Value, e.Want)
}

var durationType = reflect.TypeFor[time.Duration]()

// loadEnvFiles loads ENV_FILE alone when it is set. Otherwise .env.local is
// loaded before .env, so its values take precedence. Neither overrides a
// variable already present in the process environment, and missing files
// are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// LoadFile reads a YAML file into T, then applies every `env` tagged field
// found in the environment.
//
// A missing file is not an error: scraparr can run from environment alone,
// as it does in containers. An environment value that cannot be parsed into
// its field fails the load with an *EnvError naming the variable.
func LoadFile[T any](path string) (*T, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg T

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, unmarshalErr)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if envErr := applyEnvOverrides(&cfg); envErr != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", envErr)
	}
	return &cfg, nil
}

// LoadWithDefaults is LoadFile followed by setDefaults. The environment is
// applied again afterwards so an override always beats a default.
func LoadWithDefaults[T any](path string, setDefaults func(*T)) (*T, error) {
	cfg, err := LoadFile[T](path)
	if err != nil {
		return nil, err
	}

	if setDefaults != nil {
		setDefaults(cfg)
	}

	if envErr := applyEnvOverrides(cfg); envErr != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", envErr)
	}
	return cfg, nil
}

// GetConfigPath returns CONFIG_PATH when set, otherwise defaultPath.
func GetConfigPath(defaultPath string) string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return defaultPath
}

// applyEnvOverrides walks cfg and sets fields tagged `env:"VAR"` from the
// environment. All bad values are reported together.
func applyEnvOverrides(cfg any) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	var errs []error
	applyEnvToStruct(v, &errs)
	return errors.Join(errs...)
}

func applyEnvToStruct(v reflect.Value, errs *[]error) {
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		// Nested sections such as server and database.
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeFor[time.Time]() {
			applyEnvToStruct(field, errs)
			continue
		}
		if field.Kind() == reflect.Pointer && field.Type().Elem().Kind() == reflect.Struct {
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			applyEnvToStruct(field.Elem(), errs)
			continue
		}

		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		if want := setFieldFromString(field, val); want != "" {
			*errs = append(*errs, &EnvError{Var: name, Value: val, Want: want})
		}
	}
}

// setFieldFromString parses val into field. It returns what was expected
// when val does not parse, and "" on success.
func setFieldFromString(field reflect.Value, val string) string {
	val = strings.TrimSpace(val)

	switch field.Kind() {
	case reflect.String:
		field.SetString(val)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, ok := parseDuration(val)
			if !ok {
				return "a duration such as 30s or a number of seconds"
			}
			field.SetInt(int64(d))
			return ""
		}
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil || field.OverflowInt(i) {
			return "an integer"
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(val, 10, 64)
		if err != nil || field.OverflowUint(u) {
			return "a non-negative integer"
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "a number"
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, ok := parseBool(val)
		if !ok {
			return "a boolean"
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(val, ",")
			for i, p := range parts {
				parts[i] = strings.TrimSpace(p)
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return ""
}

// parseDuration accepts Go durations and bare seconds, so SCRAPER_TIMEOUT=300
// keeps meaning five minutes.
func parseDuration(val string) (time.Duration, bool) {
	if d, err := time.ParseDuration(val); err == nil {
		return d, true
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// parseBool accepts true/false, 1/0, yes/no and on/off in any case.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}
