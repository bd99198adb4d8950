package spjs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/grblsend/machine"
)

const testPort = "/dev/ttyUSB0"

type fakeServer struct {
	*httptest.Server
	recv  chan string
	conns chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{
		recv:  make(chan string, 10),
		conns: make(chan *websocket.Conn, 1),
	}
	var up websocket.Upgrader
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		s.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			s.recv <- string(data)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) url() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func (s *fakeServer) expect(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-s.recv:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for client message")
	}
	return ""
}

func (s *fakeServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-s.conns:
		return ws
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection")
	}
	return nil
}

func send(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func recvLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "line stream closed")
		return line
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for line")
	}
	return ""
}

func dial(t *testing.T, s *fakeServer) (*Transport, *websocket.Conn) {
	t.Helper()
	tr, err := Dial(context.Background(), s.url(), testPort, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	ws := s.conn(t)
	assert.Equal(t, "list", s.expect(t))
	return tr, ws
}

func TestDial_OpensClosedPort(t *testing.T) {
	s := newFakeServer(t)
	_, ws := dial(t, s)

	send(t, ws, `{"SerialPorts":[{"Name":"/dev/ttyS0","IsOpen":false},{"Name":"/dev/ttyUSB0","IsOpen":false}]}`)
	assert.Equal(t, "open /dev/ttyUSB0 115200", s.expect(t))
}

func TestDial_PortAlreadyOpen(t *testing.T) {
	s := newFakeServer(t)
	tr, ws := dial(t, s)

	send(t, ws, `{"SerialPorts":[{"Name":"/dev/ttyUSB0","IsOpen":true}]}`)
	require.NoError(t, tr.WriteLine("$$"))

	msg := s.expect(t)
	assert.True(t, strings.HasPrefix(msg, "sendjson "), msg)
}

func TestDial_MissingPort(t *testing.T) {
	s := newFakeServer(t)
	tr, ws := dial(t, s)

	send(t, ws, `{"SerialPorts":[{"Name":"/dev/ttyS0","IsOpen":false}]}`)

	select {
	case _, ok := <-tr.Lines():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("line stream not closed")
	}
	assert.ErrorIs(t, tr.Err(), machine.ErrPortNotFound)
}

func TestTransport_Lines(t *testing.T) {
	s := newFakeServer(t)
	tr, ws := dial(t, s)

	send(t, ws, `list`)
	send(t, ws, `{"P":"/dev/ttyUSB0","D":"Grbl 1.1h ['$' for help]\r\nok\r"}`)
	send(t, ws, `{"P":"/dev/ttyS0","D":"ok\n"}`)
	send(t, ws, `{"Cmd":"Complete","Id":"cmd_1","P":"/dev/ttyUSB0"}`)
	send(t, ws, `{"P":"/dev/ttyUSB0","D":"\n<Idle|MPos:0,0"}`)
	send(t, ws, `{"P":"/dev/ttyUSB0","D":",0>\r\n"}`)

	assert.Equal(t, "Grbl 1.1h ['$' for help]", recvLine(t, tr.Lines()))
	assert.Equal(t, "ok", recvLine(t, tr.Lines()))
	assert.Equal(t, "<Idle|MPos:0,0,0>", recvLine(t, tr.Lines()))
}

func TestTransport_Write(t *testing.T) {
	s := newFakeServer(t)
	tr, _ := dial(t, s)

	require.NoError(t, tr.WriteLine("G0 X1"))
	require.NoError(t, tr.WriteByte('?'))

	decode := func(msg string) JSON {
		require.True(t, strings.HasPrefix(msg, "sendjson "), msg)
		var j JSON
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(msg, "sendjson ")), &j))
		return j
	}

	line := decode(s.expect(t))
	assert.Equal(t, testPort, line.Port)
	require.Len(t, line.Data, 1)
	assert.Equal(t, "G0 X1\n", line.Data[0].Data)

	poll := decode(s.expect(t))
	require.Len(t, poll.Data, 1)
	assert.Equal(t, "?", poll.Data[0].Data)
	assert.NotEqual(t, line.Data[0].ID, poll.Data[0].ID)
}

func TestTransport_Close(t *testing.T) {
	s := newFakeServer(t)
	tr, _ := dial(t, s)

	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.WriteLine("G0"), ErrClosed)

	select {
	case _, ok := <-tr.Lines():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("line stream not closed")
	}
	assert.NoError(t, tr.Err())
}

func TestParseMessage(t *testing.T) {
	val, err := parseMessage([]byte(`{"Error":"port busy"}`))
	require.NoError(t, err)
	assert.Equal(t, &ErrorMessage{Error: "port busy"}, val)

	val, err = parseMessage([]byte(`{"P":"COM3","D":"ok\n"}`))
	require.NoError(t, err)
	assert.Equal(t, &DataFrame{Port: "COM3", Data: "ok\n"}, val)

	_, err = parseMessage([]byte(`{"Version":"1.96"}`))
	assert.Error(t, err)
}
