package status

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envtele/hardware/i2c"
	"github.com/temoto/envtele/hardware/sht3x"
	"github.com/temoto/envtele/hardware/wifi"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/internal/agent"
	"github.com/temoto/envtele/internal/netman"
	"github.com/temoto/envtele/internal/report"
	"github.com/temoto/envtele/internal/timebase"
	"github.com/temoto/envtele/internal/types"
	"github.com/temoto/envtele/log2"
)

type fixedSensor struct{ clock timebase.Clock }

func (fixedSensor) Initialize(ctx context.Context) error { return nil }
func (s fixedSensor) ReadLatest(ctx context.Context) (types.Reading, error) {
	return types.Reading{Temperature: 21.25, Humidity: 40, Tick: s.clock.Now()}, nil
}

func newNetwork(t testing.TB) *netman.Manager {
	radio := wifi.NewMockRadio(wifi.Network{SSID: "cafe", RSSI: -55, Auth: wifi.AuthOpen})
	radio.SetJoinable("cafe", true)
	return netman.New(radio, netman.Config{
		JoinTimeout: 50 * time.Millisecond,
		PollDelay:   time.Millisecond,
		ResetDelay:  time.Millisecond,
		RescanDelay: time.Millisecond,
	}, log2.NewTest(t, log2.LDebug))
}

func get(t testing.TB, h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHalted(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	clock := timebase.NewManualClock(1000)
	sensor := sht3x.New(i2c.NewMockBus(t), sht3x.Config{}, clock, log)
	net := newNetwork(t)
	rep := report.New(net, report.Config{Transport: &helpers.MockHTTP{}}, log)
	a := agent.New(sensor, net, rep, clock, agent.Config{}, log)
	require.Error(t, a.Start(context.Background()))

	s := New(Source{Version: "test", Agent: a, Network: net, Reporter: rep, Sensor: sensor}, log)
	w := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, true, snap["halted"])
	assert.Contains(t, snap["halt_error"], "no I2C device found")
	assert.Equal(t, "Disconnected", snap["network"].(map[string]interface{})["state"])
	assert.Equal(t, report.DefaultEndpoint, snap["endpoint"])

	const expect = `
# HELP envtele_halted 1 when sensor initialization failed.
# TYPE envtele_halted gauge
envtele_halted 1
# HELP envtele_sensor_inits_total Initialization attempts.
# TYPE envtele_sensor_inits_total counter
envtele_sensor_inits_total 1
`
	require.NoError(t, testutil.GatherAndCompare(s.Gatherer(), strings.NewReader(expect),
		"envtele_halted", "envtele_sensor_inits_total"))
}

func TestRunning(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	clock := timebase.NewManualClock(1000)
	net := newNetwork(t)
	rep := report.New(net, report.Config{Transport: &helpers.MockHTTP{Header: []byte("HTTP/1.0 201 Created\r\n\r\n")}}, log)
	a := agent.New(fixedSensor{clock}, net, rep, clock, agent.Config{}, log)
	require.NoError(t, a.Start(context.Background()))
	a.Step(context.Background())

	s := New(Source{Version: "test", Agent: a, Network: net, Reporter: rep}, log)
	w := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok\n", w.Body.String())

	snap := s.Snapshot()
	assert.False(t, snap.Halted)
	assert.Equal(t, netman.Link{State: netman.Connected, SSID: "cafe", RSSI: -55}, *snap.Network)
	assert.Equal(t, uint32(1), snap.Agent.Samples)
	assert.Equal(t, uint32(1), snap.Report.Sent)
	assert.NotEmpty(t, snap.Report.LastSuccess)

	const expect = `
# HELP envtele_network_state 0=Disconnected 1=Scanning 2=Connected 3=Reconnecting
# TYPE envtele_network_state gauge
envtele_network_state 2
# HELP envtele_report_sent_total Readings accepted by collector.
# TYPE envtele_report_sent_total counter
envtele_report_sent_total 1
`
	require.NoError(t, testutil.GatherAndCompare(s.Gatherer(), strings.NewReader(expect),
		"envtele_network_state", "envtele_report_sent_total"))

	w = get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "envtele_loop_samples_total 1")

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServe(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s := New(Source{Version: "test"}, log)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	al := alive.NewAlive()
	errch := make(chan error, 1)
	go func() { errch <- s.Serve(ln, al) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	b, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(b))

	al.Stop()
	require.NoError(t, <-errch)
	al.Wait()
}

func TestLastError(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s := New(Source{Version: "test"}, log)
	assert.Empty(t, s.Snapshot().LastError)

	log.SetErrorFunc(s.RecordError)
	log.WithPrefix("sht3x").Errorf("measurement read failed addr=%02x", 0x44)
	snap := s.Snapshot()
	assert.Equal(t, "measurement read failed addr=44", snap.LastError)
	_, err := time.Parse(time.RFC3339, snap.LastErrAt)
	assert.NoError(t, err)

	w := get(t, s.Handler(), "/status")
	assert.Contains(t, w.Body.String(), `"last_error": "measurement read failed addr=44"`)
}
