// Package config loads the refractory CLI configuration from flags,
// REFRACTORY_* environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by [Load].
const EnvPrefix = "REFRACTORY"

// Config is the resolved CLI configuration.
type Config struct {
	LogLevel string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	Format   string `mapstructure:"format" validate:"oneof=table json yaml"`

	Period time.Duration `mapstructure:"period" validate:"gte=0"`

	Watch    Watch    `mapstructure:"watch"`
	Simulate Simulate `mapstructure:"simulate"`
}

// Watch configures polling a remote resource.
type Watch struct {
	URL       string        `mapstructure:"url" validate:"omitempty,url"`
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	Count     int           `mapstructure:"count" validate:"gte=1"`
	RPS       int           `mapstructure:"rps" validate:"gte=0"`
	Burst     int           `mapstructure:"burst" validate:"required_with=RPS,gte=0"`
	UserAgent string        `mapstructure:"user-agent"`
}

// Simulate configures a replay of call offsets on a fake clock.
type Simulate struct {
	Calls []time.Duration `mapstructure:"calls" validate:"required,dive,gte=0"`
	Fail  []time.Duration `mapstructure:"fail" validate:"dive,gte=0"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("format", "table")
	v.SetDefault("period", time.Second)
	v.SetDefault("watch.interval", 250*time.Millisecond)
	v.SetDefault("watch.count", 10)
	v.SetDefault("watch.rps", 0)
	v.SetDefault("watch.burst", 0)
	v.SetDefault("watch.user-agent", "refractory")
	v.SetDefault("simulate.calls", []string{"0s"})
	v.SetDefault("simulate.fail", []string{})
}

// Load reads an optional config file, binds the environment, decodes v into a
// Config and validates it.
func Load(v *viper.Viper, file string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		stringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stringToSliceHookFunc splits a string bound for any slice type on sep.
// mapstructure.StringToSliceHookFunc only fires for []string targets, so env
// values like "0s,10ms" for a []time.Duration would decode as one element.
// The elements are converted afterwards by the remaining hooks.
func stringToSliceHookFunc(sep string) mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Slice {
			return data, nil
		}

		raw := reflect.ValueOf(data).String()
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		return parts, nil
	}
}

// /////////////////////////////////////////////////////////////////

var validate *validator.Validate
var translator ut.Translator

func init() {
	validate = validator.New()
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("config: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})
}

// FieldError represents a single invalid configuration key.
type FieldError struct {
	Field string
	Err   string
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Err
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks cfg against its declared tags.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrors validator.ValidationErrors
	if !errors.As(err, &verrors) {
		return err
	}

	fields := make(FieldErrors, 0, len(verrors))
	for _, verror := range verrors {
		fields = append(fields, FieldError{
			Field: strings.TrimPrefix(verror.Namespace(), "Config."),
			Err:   verror.Translate(translator),
		})
	}

	return fields
}
