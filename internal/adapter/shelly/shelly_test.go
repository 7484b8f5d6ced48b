package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEMStatusShaping(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(EMStatus{0.001, 0.001, 0.001, 0.001}, NewEMStatus(domain.Reading{0, 0, 0}))
	assert.Equal(EMStatus{100.001, 0.001, 0.001, 100.001}, NewEMStatus(domain.Reading{100, 0, 0}))
	assert.Equal(EMStatus{100.5, 0.001, 0.001, 100.5}, NewEMStatus(domain.Reading{100.5, 0, 0}))
	assert.Equal(EMStatus{230.001, 0.001, 0.001, 230.04}, NewEMStatus(domain.Reading{230.04}))
	assert.Equal(EMStatus{0.001, 50.2, 10.001, 60.2}, NewEMStatus(domain.Reading{-0.05, 50.25, 10}))
	assert.Equal(EMStatus{-75.3, 0.001, 0.001, -75.3}, NewEMStatus(domain.Reading{-75.3, 0, 0}))
}

// Readings with neither 1 nor 3 phases report zero on every field.
func TestEMStatusDegradesUnexpectedPhaseCount(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(EMStatus{0.001, 0.001, 0.001, 0.001}, NewEMStatus(domain.Reading{100, 200}))
	assert.Equal(EMStatus{0.001, 0.001, 0.001, 0.001}, NewEMStatus(domain.Reading{}))
}

func TestEM1StatusShaping(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(EM1Status{150.001}, NewEM1Status(domain.Reading{100, 50}))
	assert.Equal(EM1Status{0.001}, NewEM1Status(domain.Reading{0, 0, 0}))
	assert.Equal(EM1Status{12.345}, NewEM1Status(domain.Reading{12.3454}))
}

func TestParseRequest(t *testing.T) {

	assert := assert.New(t)

	req, err := parseRequest([]byte(`{"id":1,"method":"EM.GetStatus","params":{"id":0}}`))
	assert.NoError(err)
	assert.Equal("EM.GetStatus", req.Method)
	assert.Equal(json.RawMessage("1"), req.ID)

	_, err = parseRequest([]byte(`{"id":1,"method":"EM.GetStatus","params":{"id":"0"}}`))
	assert.ErrorIs(err, errNonIntegerParams)
	_, err = parseRequest([]byte(`{"id":1,"method":"EM.GetStatus","params":{"id":0.5}}`))
	assert.ErrorIs(err, errNonIntegerParams)
	_, err = parseRequest([]byte(`{"id":1,"method":"EM.GetStatus"}`))
	assert.ErrorIs(err, errNonIntegerParams)
	_, err = parseRequest([]byte(`{"method":"EM.GetStatus","params":{"id":0}}`))
	assert.ErrorIs(err, errMissingID)
	_, err = parseRequest([]byte(`{"id":1,`))
	assert.Error(err)
}

type countingSource struct {
	calls   atomic.Int32
	reading domain.Reading
	err     error
}

func (s *countingSource) Fetch(_ context.Context) (domain.Reading, error) {
	s.calls.Add(1)
	return s.reading, s.err
}

func (s *countingSource) WaitForMessage(_ context.Context, _ time.Duration) error {
	return nil
}

func startShelly(t *testing.T, netmask string, source *countingSource, throttle time.Duration) *Emulator {
	t.Helper()
	filter, err := service.NewClientFilter([]string{netmask}, nil)
	require.NoError(t, err)
	router := service.NewRouter([]service.Route{{
		Name:   "test",
		Source: service.NewThrottledPowerSource(source, throttle, nil),
		Filter: filter,
	}}, nil)
	e := New(Config{DeviceType: domain.DEVICE_TYPE_SHELLY_PRO_3EM, DeviceID: "shellypro3em-ec4609c439c1"}, router, zap.NewNop(), nil)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e
}

func rpc(t *testing.T, addr net.Addr, request string) string {
	t.Helper()
	client, err := net.DialUDP("udp4", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte(request))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := client.Read(buf)
	if err != nil {
		var netErr net.Error
		require.True(t, errors.As(err, &netErr) && netErr.Timeout(), err)
		return ""
	}
	return string(buf[:n])
}

func TestEMGetStatusOverUDP(t *testing.T) {

	assert := assert.New(t)

	e := startShelly(t, "127.0.0.0/8", &countingSource{reading: domain.Reading{100, 0, 0}}, 0)

	assert.Equal(
		`{"id":7,"src":"shellypro3em-ec4609c439c1","dst":"unknown","result":{"a_act_power":100.001,"b_act_power":0.001,"c_act_power":0.001,"total_act_power":100.001}}`,
		rpc(t, e.UDPAddr(), `{"id": 7, "method": "EM.GetStatus", "params": {"id": 0}}`))

	assert.Equal(
		`{"id":"abc","src":"shellypro3em-ec4609c439c1","dst":"unknown","result":{"act_power":100.001}}`,
		rpc(t, e.UDPAddr(), `{"id":"abc","method":"EM1.GetStatus","params":{"id":0}}`))

	assert.Empty(rpc(t, e.UDPAddr(), `{"id":1,"method":"Shelly.GetDeviceInfo","params":{"id":0}}`))
	assert.Empty(rpc(t, e.UDPAddr(), `not json`))
}

func TestDropsUnroutedClients(t *testing.T) {

	assert := assert.New(t)

	source := &countingSource{reading: domain.Reading{1, 2, 3}}
	e := startShelly(t, "10.0.0.0/8", source, 0)

	assert.Empty(rpc(t, e.UDPAddr(), `{"id":1,"method":"EM.GetStatus","params":{"id":0}}`))
	assert.Zero(source.calls.Load())
}

func TestDropsWhenFetchFails(t *testing.T) {

	assert := assert.New(t)

	e := startShelly(t, "127.0.0.0/8", &countingSource{err: errors.New("down")}, 0)
	assert.Empty(rpc(t, e.UDPAddr(), `{"id":1,"method":"EM.GetStatus","params":{"id":0}}`))
}

func TestConcurrentRequestsShareThrottle(t *testing.T) {

	require := require.New(t)

	source := &countingSource{reading: domain.Reading{10, 20, 30}}
	e := startShelly(t, "127.0.0.0/8", source, 100*time.Millisecond)

	var wg sync.WaitGroup
	responses := make([]string, 3)
	start := time.Now()
	for i := range responses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = rpc(t, e.UDPAddr(), `{"id":1,"method":"EM1.GetStatus","params":{"id":0}}`)
		}()
	}
	wg.Wait()

	for _, resp := range responses {
		require.Contains(resp, `"act_power":60.001`)
	}
	require.EqualValues(3, source.calls.Load())
	require.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
}

func TestMDNSRecord(t *testing.T) {

	assert := assert.New(t)

	assert.Equal([]string{"gen=2", "app=EMG3", "id=shellyemg3-ec4609c439c1"},
		mdnsTXT(domain.DEVICE_TYPE_SHELLY_EM_G3, "shellyemg3-ec4609c439c1"))
}

func TestRestartAfterStop(t *testing.T) {

	require := require.New(t)

	e := startShelly(t, "127.0.0.0/8", &countingSource{reading: domain.Reading{100, 0, 0}}, 0)
	e.Stop()
	require.False(e.Healthy())
	require.Nil(e.UDPAddr())

	require.NoError(e.Start())
	require.True(e.Healthy())
	require.Contains(rpc(t, e.UDPAddr(), `{"id":1,"method":"EM1.GetStatus","params":{"id":0}}`), `"act_power":100.001`)
}
