package powermeter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/b2500meter/internal/config"
	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/service"
	"github.com/berfenger/b2500meter/pkg/modbusmeter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScriptSource(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	src := NewScriptSource("script", "echo 100; echo ' -25.5 '; echo 3", 0)
	reading, err := src.Fetch(context.Background())
	require.NoError(err)
	assert.Equal(domain.Reading{100, -25.5, 3}, reading)
	assert.NoError(src.WaitForMessage(context.Background(), time.Millisecond))
}

func TestScriptSourceFailures(t *testing.T) {

	assert := assert.New(t)

	_, err := NewScriptSource("bad", "echo watts", 0).Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrSourceFailure)

	_, err = NewScriptSource("exit", "exit 3", 0).Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrSourceFailure)

	_, err = NewScriptSource("empty", "true", 0).Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrNoValue)

	start := time.Now()
	_, err = NewScriptSource("slow", "sleep 5", 100*time.Millisecond).Fetch(context.Background())
	assert.Error(err)
	assert.Less(time.Since(start), 4*time.Second)
}

func TestJSONHTTPSource(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" || r.Header.Get("X-Token") != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"emeters":[{"power":120.5},{"power":"-30"}],"total":{"power":90.5}}`))
	}))
	defer srv.Close()

	src := NewJSONHTTPSource("http", config.JSONHTTPConfig{
		URL:       srv.URL,
		JSONPaths: []string{"$.emeters[0].power", "emeters[1].power", "total.power"},
		Username:  "admin",
		Password:  "secret",
		Headers:   map[string]string{"X-Token": "abc"},
	})
	reading, err := src.Fetch(context.Background())
	require.NoError(err)
	assert.Equal(domain.Reading{120.5, -30, 90.5}, reading)

	src = NewJSONHTTPSource("http", config.JSONHTTPConfig{URL: srv.URL, JSONPaths: []string{"total.power"}})
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrSourceFailure)
}

func TestJSONHTTPSourceMissingPath(t *testing.T) {

	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"power":1}`))
	}))
	defer srv.Close()

	_, err := NewJSONHTTPSource("http", config.JSONHTTPConfig{URL: srv.URL, JSONPaths: []string{"missing"}}).Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrSourceFailure)
}

func TestMQTTSourcePayloads(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	src := newMQTTSource("mqtt", zap.NewNop())
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrNoValue)

	err = src.WaitForMessage(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(err, domain.ErrTimeout)

	src.handlePayload([]byte("not a number"), "")
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrNoValue)

	src.handlePayload([]byte(" 512.5 "), "")
	require.NoError(src.WaitForMessage(context.Background(), time.Second))
	reading, err := src.Fetch(context.Background())
	require.NoError(err)
	assert.Equal(domain.Reading{512.5}, reading)

	src.handlePayload([]byte(`{"ENERGY":{"Power":-42}}`), "$.ENERGY.Power")
	reading, err = src.Fetch(context.Background())
	require.NoError(err)
	assert.Equal(domain.Reading{-42}, reading)

	// later messages must not close the channel twice
	src.handlePayload([]byte("1"), "")
	assert.NoError(src.Close())
}

func TestMQTTSourceWaitCancelled(t *testing.T) {

	assert := assert.New(t)

	src := newMQTTSource("mqtt", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(src.WaitForMessage(ctx, time.Minute), context.Canceled)
}

func TestModbusSource(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	src := NewModbusSource("modbus", &modbusmeter.TestPowerReader{Values: []float64{1500}})
	reading, err := src.Fetch(context.Background())
	require.NoError(err)
	assert.Equal(domain.Reading{1500}, reading)
	assert.NoError(src.Close())

	src = NewModbusSource("modbus", &modbusmeter.TestPowerReader{Err: errors.New("timeout")})
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(err, domain.ErrSourceFailure)
}

func TestBuildRoutes(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	zero := uint32(0)
	cfg := &config.Config{
		ThrottleIntervalMillis: 500,
		Powermeters: []config.PowermeterConfig{
			{
				Name:    "garage",
				Type:    config.POWERMETER_TYPE_SCRIPT,
				Netmask: []string{"192.168.1.50/32"},
				Script:  config.ScriptConfig{Command: "echo 1"},
			},
			{
				Type:                   config.POWERMETER_TYPE_JSON_HTTP,
				ThrottleIntervalMillis: &zero,
				JSONHTTP:               config.JSONHTTPConfig{URL: "http://127.0.0.1:1", JSONPaths: []string{"power"}},
			},
		},
	}
	routes, err := BuildRoutes(cfg, zap.NewNop())
	require.NoError(err)
	require.Len(routes, 2)

	assert.Equal("garage", routes[0].Name)
	throttled, ok := routes[0].Source.(*service.ThrottledPowerSource)
	require.True(ok)
	assert.Equal(500*time.Millisecond, throttled.MinInterval())
	assert.True(routes[0].Filter.Matches("192.168.1.50"))
	assert.False(routes[0].Filter.Matches("192.168.1.51"))

	assert.Equal("json_http-2", routes[1].Name)
	_, ok = routes[1].Source.(*JSONHTTPSource)
	assert.True(ok)
	assert.True(routes[1].Filter.Matches("10.1.2.3"))

	router := service.NewRouter(routes, zap.NewNop())
	source, ok := router.Resolve("192.168.1.50")
	require.True(ok)
	reading, err := source.Fetch(context.Background())
	require.NoError(err)
	assert.Equal(domain.Reading{1}, reading)
}

func TestBuildRoutesRejectsInvalid(t *testing.T) {

	assert := assert.New(t)

	_, err := BuildRoutes(&config.Config{Powermeters: []config.PowermeterConfig{{Type: "carrier_pigeon"}}}, zap.NewNop())
	assert.Error(err)

	_, err = BuildRoutes(&config.Config{Powermeters: []config.PowermeterConfig{{
		Type:    config.POWERMETER_TYPE_SCRIPT,
		Netmask: []string{"not-a-mask"},
		Script:  config.ScriptConfig{Command: "echo 1"},
	}}}, zap.NewNop())
	assert.Error(err)
}
