// Package spjs implements a machine.Transport over a Serial Port JSON Server
// websocket, for controllers attached to a remote host.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/mastercactapus/grblsend/machine"
)

// ErrClosed is returned when writing to a closed Transport.
var ErrClosed = errors.New("spjs: transport closed")

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name            string
	Friendly        string
	SerialNumber    string
	IsOpen          bool
	Baud            int
	BufferAlgorithm string
}

// JSON is the payload of a sendjson command.
type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	err = json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

// Transport relays controller lines for a single port of an SPJS server.
// It does not reconnect; a dropped websocket ends the inbound stream.
type Transport struct {
	ws   *websocket.Conn
	port string
	baud int
	log  *slog.Logger

	lastID  int64
	partial string

	lines   chan string
	closeCh chan struct{}
	once    sync.Once

	wMx sync.Mutex
	mx  sync.Mutex
	err error
}

var _ machine.Transport = &Transport{}

// Dial connects to the SPJS websocket at url and opens port at baud if the
// server reports it closed.
func Dial(ctx context.Context, url, port string, baud int, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if baud == 0 {
		baud = machine.DefaultBaud
	}

	logger.Debug("connecting", "url", url)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	t := &Transport{
		ws:      ws,
		port:    port,
		baud:    baud,
		log:     logger.With("spjs.port", port),
		lines:   make(chan string, 100),
		closeCh: make(chan struct{}),
	}
	go t.readLoop()

	err = t.writeText("list")
	if err != nil {
		t.Close()
		return nil, err
	}

	return t, nil
}

func (t *Transport) nextID() string {
	id := atomic.AddInt64(&t.lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

// Lines returns decoded inbound lines. It is closed when the websocket ends.
func (t *Transport) Lines() <-chan string { return t.lines }

// Err returns the error that ended the inbound stream, if any.
func (t *Transport) Err() error {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.err
}

func (t *Transport) setErr(err error) {
	t.mx.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mx.Unlock()
}

// WriteLine queues line for the port, newline-terminated.
func (t *Transport) WriteLine(line string) error {
	return t.sendJSON(line + "\n")
}

// WriteByte sends a single real-time byte with no line terminator.
func (t *Transport) WriteByte(b byte) error {
	return t.sendJSON(string(b))
}

func (t *Transport) sendJSON(data string) error {
	payload, err := json.Marshal(JSON{
		Port: t.port,
		Data: []Data{{Data: data, ID: t.nextID()}},
	})
	if err != nil {
		return fmt.Errorf("marshal sendjson: %w", err)
	}
	return t.write(append([]byte("sendjson "), payload...))
}

func (t *Transport) writeText(cmd string) error {
	return t.write([]byte(cmd))
}

func (t *Transport) write(payload []byte) error {
	select {
	case <-t.closeCh:
		return ErrClosed
	default:
	}

	t.wMx.Lock()
	defer t.wMx.Unlock()
	err := t.ws.WriteMessage(websocket.TextMessage, payload)
	if err != nil {
		return fmt.Errorf("spjs write: %w", err)
	}
	return nil
}

// Close closes the websocket. The port is left open on the server.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closeCh)
		err = t.ws.Close()
	})
	return err
}

func (t *Transport) readLoop() {
	defer close(t.lines)
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			select {
			case <-t.closeCh:
			default:
				t.setErr(fmt.Errorf("spjs read: %w", err))
			}
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			t.log.Debug("unhandled message", "err", err)
			continue
		}
		if !t.handle(val) {
			t.Close()
			return
		}
	}
}

// handle processes one server message, returning false if the stream should end.
func (t *Transport) handle(val interface{}) bool {
	switch msg := val.(type) {
	case *DataFrame:
		if msg.Port != t.port {
			return true
		}
		return t.emit(msg.Data)
	case *SerialPortList:
		for _, port := range msg.SerialPorts {
			if port.Name != t.port {
				continue
			}
			if !port.IsOpen {
				t.log.Debug("opening port", "baud", t.baud)
				err := t.writeText("open " + t.port + " " + strconv.Itoa(t.baud))
				if err != nil {
					t.setErr(err)
					return false
				}
			}
			return true
		}
		t.setErr(fmt.Errorf("%w: %s", machine.ErrPortNotFound, t.port))
		return false
	case *ErrorMessage:
		t.log.Warn("server error", "err", msg.Error)
	case *CmdStatus:
		if msg.Cmd == "WipedQueue" {
			t.log.Warn("server wiped queue")
		}
	}
	return true
}

// emit splits a data chunk into lines, carrying an unterminated tail over to
// the next chunk.
func (t *Transport) emit(chunk string) bool {
	t.partial += chunk
	for {
		i := strings.IndexByte(t.partial, '\n')
		if i < 0 {
			return true
		}
		line := strings.TrimSuffix(t.partial[:i], "\r")
		t.partial = t.partial[i+1:]
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		case <-t.closeCh:
			return false
		}
	}
}
