package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/flightsim/internal/gps"
	"github.com/shaunagostinho/flightsim/internal/logger"
	"github.com/shaunagostinho/flightsim/internal/sim"
	"github.com/shaunagostinho/flightsim/internal/sink"
)

const (
	rmc = "$GPRMC,123519.042,A,4807.0380,N,01130.0000,E,19.4,84.4,230324,,A*4A"
	gga = "$GPGGA,123519.042,4807.0380,N,01130.0000,E,1,08,0.9,545.4,M,0.0,M,,*65"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	webFS := fstest.MapFS{"index.html": {Data: []byte("<html>flightsim</html>")}}
	s := New(DefaultConfig(), webFS, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServer_BroadcastsDecodedSentences(t *testing.T) {
	s, ts := newTestServer(t)
	require.NoError(t, s.Publish("producers/early/data", []byte(rmc)))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	assert.Equal(t, []string{"producers/early/data"}, hello.Fleet)
	assert.Empty(t, hello.Sentence)

	require.NoError(t, s.Publish("producers/cessna/data", []byte(rmc)))
	require.NoError(t, s.Publish("producers/cessna/data", []byte(gga)))

	f1 := readFrame(t, conn)
	assert.Equal(t, "producers/cessna/data", f1.Topic)
	assert.Equal(t, "producers/cessna/data", f1.ID)
	assert.Equal(t, rmc, f1.Sentence)
	require.NotNil(t, f1.Fix)
	assert.True(t, f1.Fix.Valid)
	assert.InDelta(t, 19.4, f1.Fix.Speed, 1e-9)

	f2 := readFrame(t, conn)
	assert.Equal(t, gga, f2.Sentence)
	require.NotNil(t, f2.Fix)
	assert.InDelta(t, 545.4, f2.Fix.Altitude, 1e-9)
	assert.InDelta(t, 48.1173, f2.Fix.Latitude, 1e-9)
	assert.Equal(t, 8, f2.Fix.Satellites)

	require.NoError(t, s.Publish("producers/cessna/data", []byte("garbage")))
	f3 := readFrame(t, conn)
	assert.Equal(t, "garbage", f3.Sentence)
	assert.Nil(t, f3.Fix)
}

func TestServer_FleetAPI(t *testing.T) {
	s, ts := newTestServer(t)
	require.NoError(t, s.Publish("a", []byte(rmc)))
	require.NoError(t, s.Publish("b", []byte(gga)))

	resp, err := http.Get(ts.URL + "/api/fleet")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fixes map[string]struct {
		Latitude float64 `json:"latitude"`
		Altitude float64 `json:"altitude"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fixes))
	require.Len(t, fixes, 2)
	assert.InDelta(t, 48.1173, fixes["a"].Latitude, 1e-9)
	assert.InDelta(t, 545.4, fixes["b"].Altitude, 1e-9)

	post, err := http.Post(ts.URL+"/api/fleet", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestServer_ConfigAPI(t *testing.T) {
	s, ts := newTestServer(t)
	s.cfg.path = t.TempDir() + "/config.yaml"

	resp, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"topic":"producers/cessna/data"`)
	assert.NotContains(t, string(body), "password")

	resp, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"fleet":{"size":2}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, s.cfg.Fleet.Size)

	resp, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ServesWebAssets(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "flightsim")
}

func TestServer_SharedTopicKeepsOneFixPerAircraft(t *testing.T) {
	s, ts := newTestServer(t)
	cfg := DefaultConfig()
	cfg.Fleet.Size = 4
	require.NotContains(t, cfg.MQTT.Topic, "{id}")

	configs, err := cfg.Aircraft()
	require.NoError(t, err)
	clock := func() time.Time { return time.Date(2024, 3, 23, 12, 35, 19, 0, time.UTC) }
	fleet, err := sim.NewFleet(configs, gps.NewBuilder(clock))
	require.NoError(t, err)

	reports := fleet.Tick(clock())
	for _, r := range reports {
		topic := sink.Topic(cfg.MQTT.Topic, r.ID)
		require.NoError(t, sink.PublishAircraft(s, r.ID, topic, []byte(r.Messages.GPRMC)))
		require.NoError(t, sink.PublishAircraft(s, r.ID, topic, []byte(r.Messages.GPGGA)))
	}

	fixes := s.Fixes()
	require.Len(t, fixes, 4)
	for _, r := range reports {
		fix, ok := fixes[r.ID]
		require.True(t, ok, r.ID)
		assert.InDelta(t, r.Position.Latitude, fix.Latitude, 1e-5, r.ID)
		assert.InDelta(t, r.Position.Longitude, fix.Longitude, 1e-5, r.ID)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	hello := readFrame(t, conn)
	assert.Equal(t, []string{"cessna-1", "cessna-2", "cessna-3", "cessna-4"}, hello.Fleet)

	require.NoError(t, sink.PublishAircraft(s, "cessna-3", cfg.MQTT.Topic, []byte(reports[2].Messages.GPRMC)))
	f := readFrame(t, conn)
	assert.Equal(t, "cessna-3", f.ID)
	assert.Equal(t, cfg.MQTT.Topic, f.Topic)
}

func TestServer_ConfigPostTogglesTrackRecording(t *testing.T) {
	s, ts := newTestServer(t)
	s.cfg.path = t.TempDir() + "/config.yaml"
	track := logger.New(logger.Config{Path: t.TempDir()}, zerolog.Nop())
	defer track.Close()
	s.AttachTrack(track)
	require.False(t, track.IsEnabled())

	resp, err := http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"track":{"enabled":true}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, track.IsEnabled())

	resp, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"track":{"enabled":false}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, track.IsEnabled())
}
