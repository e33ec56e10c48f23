package sink

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

const rmc = "$GPRMC,123519.042,A,4807.0380,N,01130.0000,E,19.4,84.4,230324,,A*4A"

type recordingSink struct {
	name string
	err  error
	got  []string
}

func (r *recordingSink) Name() string   { return r.name }
func (r *recordingSink) Connect() error { return r.err }
func (r *recordingSink) Close() error   { return nil }
func (r *recordingSink) Publish(topic string, payload []byte) error {
	r.got = append(r.got, topic+" "+string(payload))
	return r.err
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "producers/cessna-2/data", Topic("producers/{id}/data", "cessna-2"))
	assert.Equal(t, "producers/cessna/data", Topic("producers/cessna/data", "cessna-2"))
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: boom}
	c := &recordingSink{name: "c"}
	m := Multi{a, b, c}

	err := m.Publish("t", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")
	assert.Equal(t, []string{"t x"}, a.got)
	assert.Equal(t, []string{"t x"}, c.got)

	assert.ErrorIs(t, m.Connect(), boom)
	assert.NoError(t, m.Close())
	assert.Equal(t, "a+b+c", m.Name())
	assert.NoError(t, Multi{a, c}.Publish("t", []byte("y")))
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter("stdout", &buf)
	require.NoError(t, w.Connect())
	require.NoError(t, w.Publish("producers/cessna/data", []byte(rmc)))
	assert.Equal(t, "producers/cessna/data "+rmc+"\n", buf.String())
}

func TestUDP_SendsCRLFDatagrams(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	u := NewUDP(UDPConfig{Dest: ln.LocalAddr().String()})
	assert.ErrorIs(t, u.Publish("", []byte(rmc)), ErrNotConnected)
	require.NoError(t, u.Connect())
	defer u.Close()

	require.NoError(t, u.Publish("ignored", []byte(rmc)))

	buf := make([]byte, 512)
	require.NoError(t, ln.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := ln.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, rmc+"\r\n", string(buf[:n]))
}

type fakePort struct {
	serial.Port
	buf    bytes.Buffer
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) { return p.buf.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func TestSerial_WritesSentences(t *testing.T) {
	port := &fakePort{}
	var gotMode *serial.Mode
	s := NewSerial(SerialConfig{PortPath: "/dev/ttyFAKE"}, zerolog.Nop())
	s.open = func(path string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/ttyFAKE", path)
		gotMode = mode
		return port, nil
	}

	assert.ErrorIs(t, s.Publish("", []byte(rmc)), ErrNotConnected)
	require.NoError(t, s.Connect())
	assert.Equal(t, 4800, gotMode.BaudRate)

	require.NoError(t, s.Publish("t", []byte("$A*41")))
	require.NoError(t, s.Publish("t", []byte("$B*42")))
	assert.Equal(t, "$A*41\r\n$B*42\r\n", port.buf.String())

	require.NoError(t, s.Close())
	assert.True(t, port.closed)
	assert.ErrorIs(t, s.Publish("t", []byte("x")), ErrNotConnected)
}

func TestSerial_OpenFailure(t *testing.T) {
	s := NewSerial(SerialConfig{PortPath: "/dev/none", BaudRate: 9600}, zerolog.Nop())
	s.open = func(string, *serial.Mode) (serial.Port, error) { return nil, errors.New("no such device") }
	err := s.Connect()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "/dev/none"))
}

type fakeToken struct {
	err     error
	pending bool
}

func (t fakeToken) Wait() bool                     { return !t.pending }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeClient struct {
	mqtt.Client
	connectErr   error
	connectHang  bool
	published    []string
	qos          []byte
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	return fakeToken{err: c.connectErr, pending: c.connectHang}
}
func (c *fakeClient) Disconnect(uint)     { c.disconnected = true }
func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, topic+" "+string(payload.([]byte)))
	c.qos = append(c.qos, qos)
	return fakeToken{}
}

func TestMQTT_PublishesWithQoS(t *testing.T) {
	fc := &fakeClient{}
	var opts *mqtt.ClientOptions
	m := NewMQTT(MQTTConfig{QoS: 1, Username: "admin", Password: "admin"}, zerolog.Nop())
	m.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		opts = o
		return fc
	}

	assert.ErrorIs(t, m.Publish("t", []byte(rmc)), ErrNotConnected)
	require.NoError(t, m.Connect())
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Equal(t, "plane-simulator-client", opts.ClientID)
	assert.Equal(t, "admin", opts.Username)

	require.NoError(t, m.Publish("producers/cessna/data", []byte(rmc)))
	assert.Equal(t, []string{"producers/cessna/data " + rmc}, fc.published)
	assert.Equal(t, []byte{1}, fc.qos)

	require.NoError(t, m.Close())
	assert.True(t, fc.disconnected)
}

func TestMQTT_ConnectError(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "tcp://broker:1883"}, zerolog.Nop())
	fc := &fakeClient{connectErr: errors.New("not authorized")}
	m.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fc }
	err := m.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.True(t, fc.disconnected, "failed client must be torn down")
	assert.ErrorIs(t, m.Publish("t", nil), ErrNotConnected)
}

func TestMQTT_ConnectTimeoutDisconnects(t *testing.T) {
	m := NewMQTT(MQTTConfig{ConnectTimeout: 1}, zerolog.Nop())
	var clients []*fakeClient
	m.newClient = func(*mqtt.ClientOptions) mqtt.Client {
		fc := &fakeClient{connectHang: true}
		clients = append(clients, fc)
		return fc
	}

	for i := 0; i < 2; i++ {
		err := m.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	}
	require.Len(t, clients, 2)
	for _, fc := range clients {
		assert.True(t, fc.disconnected)
	}
	assert.ErrorIs(t, m.Publish("t", nil), ErrNotConnected)
}

type aircraftSink struct {
	recordingSink
	ids []string
}

func (a *aircraftSink) PublishAircraft(id, topic string, payload []byte) error {
	a.ids = append(a.ids, id)
	return a.Publish(topic, payload)
}

func TestPublishAircraft_PassesIDWhereSupported(t *testing.T) {
	plain := &recordingSink{name: "plain"}
	keyed := &aircraftSink{recordingSink: recordingSink{name: "keyed"}}
	m := Multi{plain, keyed}

	require.NoError(t, PublishAircraft(m, "cessna-2", "producers/cessna/data", []byte(rmc)))
	require.NoError(t, PublishAircraft(plain, "cessna-3", "t", []byte("x")))

	assert.Equal(t, []string{"cessna-2"}, keyed.ids)
	assert.Equal(t, []string{"producers/cessna/data " + rmc}, keyed.got)
	assert.Equal(t, []string{"producers/cessna/data " + rmc, "t x"}, plain.got)
}
