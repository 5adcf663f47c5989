package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "table", cfg.Format)
	assert.Equal(t, time.Second, cfg.Period)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Interval)
	assert.Equal(t, 10, cfg.Watch.Count)
	assert.Equal(t, []time.Duration{0}, cfg.Simulate.Calls)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refractory.yaml")
	body := `
period: 100ms
format: yaml
watch:
  url: https://example.com/status
  interval: 1s
  count: 3
  rps: 5
  burst: 2
simulate:
  calls: [0s, 30ms, 60ms, 150ms]
  fail: [60ms]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(newViper(), path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Period)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Equal(t, Watch{
		URL:       "https://example.com/status",
		Interval:  time.Second,
		Count:     3,
		RPS:       5,
		Burst:     2,
		UserAgent: "refractory",
	}, cfg.Watch)
	assert.Equal(t, []time.Duration{0, 30 * time.Millisecond, 60 * time.Millisecond, 150 * time.Millisecond}, cfg.Simulate.Calls)
	assert.Equal(t, []time.Duration{60 * time.Millisecond}, cfg.Simulate.Fail)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("REFRACTORY_PERIOD", "250ms")
	t.Setenv("REFRACTORY_WATCH_COUNT", "4")
	t.Setenv("REFRACTORY_SIMULATE_CALLS", "0s,10ms")

	cfg, err := Load(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Period)
	assert.Equal(t, 4, cfg.Watch.Count)
	assert.Equal(t, []time.Duration{0, 10 * time.Millisecond}, cfg.Simulate.Calls)
}

func TestStringToSliceHook(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		exp  []time.Duration
	}{
		{name: "Single", in: "150ms", exp: []time.Duration{150 * time.Millisecond}},
		{name: "List", in: "0s,30ms,60ms", exp: []time.Duration{0, 30 * time.Millisecond, 60 * time.Millisecond}},
		{name: "Spaces", in: "1s, 2s", exp: []time.Duration{time.Second, 2 * time.Second}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got []time.Duration
			dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				DecodeHook: mapstructure.ComposeDecodeHookFunc(
					stringToSliceHookFunc(","),
					mapstructure.StringToTimeDurationHookFunc(),
				),
				WeaklyTypedInput: true,
				Result:           &got,
			})
			require.NoError(t, err)

			require.NoError(t, dec.Decode(tc.in))
			assert.Equal(t, tc.exp, got)
		})
	}
}

func TestLoad_EnvFail(t *testing.T) {
	t.Setenv("REFRACTORY_SIMULATE_FAIL", "10ms,20ms")

	cfg, err := Load(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, cfg.Simulate.Fail)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		set   map[string]any
		field string
	}{
		{name: "Negative period", set: map[string]any{"period": "-1s"}, field: "period"},
		{name: "Unknown format", set: map[string]any{"format": "xml"}, field: "format"},
		{name: "Bad log level", set: map[string]any{"log-level": "loud"}, field: "log-level"},
		{name: "Zero count", set: map[string]any{"watch.count": 0}, field: "watch.count"},
		{name: "Bad url", set: map[string]any{"watch.url": "not a url"}, field: "watch.url"},
		{name: "RPS without burst", set: map[string]any{"watch.rps": 5}, field: "watch.burst"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newViper()
			for k, val := range tc.set {
				v.Set(k, val)
			}

			_, err := Load(v, "")
			require.Error(t, err)

			var fe FieldErrors
			require.True(t, errors.As(err, &fe), "exp FieldErrors; got %T: %v", err, err)
			assert.Equal(t, tc.field, fe[0].Field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
