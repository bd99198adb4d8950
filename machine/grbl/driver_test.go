package grbl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/grblsend/gcode"
)

type fakeTransport struct {
	mx       sync.Mutex
	written  []string
	polls    int
	writeErr error
	readErr  error

	lines chan string
}

func newFakeTransport(lines ...string) *fakeTransport {
	ch := make(chan string, len(lines)+1)
	for _, l := range lines {
		ch <- l
	}
	return &fakeTransport{lines: ch}
}

func (f *fakeTransport) WriteLine(line string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, line)
	return nil
}

func (f *fakeTransport) WriteByte(b byte) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if b == '?' {
		f.polls++
	}
	return nil
}

func (f *fakeTransport) Lines() <-chan string { return f.lines }
func (f *fakeTransport) Err() error           { return f.readErr }
func (f *fakeTransport) Close() error         { return nil }

func (f *fakeTransport) Written() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeTransport) Polls() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.polls
}

func newBuffer(t *testing.T, init []string, file ...string) *gcode.Buffer {
	t.Helper()
	buf, err := gcode.NewBuffer(init, nil, file)
	require.NoError(t, err)
	return buf
}

func TestDriver_EndToEnd(t *testing.T) {
	buf := newBuffer(t, []string{"?", "$H"}, "G1 X1", "G1 Y1")
	tr := newFakeTransport()
	d := NewDriver(tr, buf, Config{})

	for _, line := range []string{DefaultBanner, "ok", "ok", "ok"} {
		res, err := d.Handle(line)
		require.NoError(t, err)
		require.Nil(t, res, line)
	}

	assert.Equal(t, []string{"?", "$H", "G1 X1", "G1 Y1"}, tr.Written())
	assert.True(t, buf.Done())
	assert.True(t, d.State().AwaitingAck)

	res, err := d.Handle("ok")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, res.Success())
	assert.Nil(t, res.Fault)
	assert.Equal(t, 4, res.Sent)
	assert.True(t, res.State.Homed)
	assert.False(t, res.State.Homing)
	assert.Len(t, tr.Written(), 4)
}

func TestDriver_Run(t *testing.T) {
	buf := newBuffer(t, []string{"?", "$H"}, "G1 X1", "G1 Y1")
	tr := newFakeTransport(DefaultBanner, "ok", "<Idle|MPos:0,0,0>", "ok", "ok", "ok")

	var events []Event
	d := NewDriver(tr, buf, Config{ID: "job-1", OnEvent: func(e Event) { events = append(events, e) }})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "job-1", res.ID)
	assert.Equal(t, []string{"?", "$H", "G1 X1", "G1 Y1"}, tr.Written())
	assert.Equal(t, "Idle", res.State.Status.Mode)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Kind)
	assert.Equal(t, res, last.Result)

	var sent []string
	for _, e := range events {
		assert.Equal(t, "job-1", e.JobID)
		if e.Kind == EventSent {
			sent = append(sent, e.Line)
		}
	}
	assert.Equal(t, tr.Written(), sent)
}

func TestDriver_SingleInFlight(t *testing.T) {
	buf := newBuffer(t, nil, "G1 X1", "G1 Y1", "G1 Z1")
	tr := newFakeTransport()
	d := NewDriver(tr, buf, Config{})

	inbound := []string{
		DefaultBanner,
		"<Run|MPos:1,0,0>",
		"[MSG:Caution: Unlocked]",
		"$10=1",
		"something else",
		"<Run|MPos:2,0,0>",
	}
	for _, line := range inbound {
		res, err := d.Handle(line)
		require.NoError(t, err)
		require.Nil(t, res)
		assert.Equal(t, []string{"G1 X1"}, tr.Written(), line)
		assert.True(t, d.State().AwaitingAck)
	}

	_, err := d.Handle("ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"G1 X1", "G1 Y1"}, tr.Written())
}

func TestDriver_WaitsForWelcome(t *testing.T) {
	buf := newBuffer(t, nil, "G0 X0")
	tr := newFakeTransport()
	d := NewDriver(tr, buf, Config{})

	res, err := d.Handle("ok")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, tr.Written())

	_, err = d.Handle(DefaultBanner)
	require.NoError(t, err)
	assert.Equal(t, []string{"G0 X0"}, tr.Written())
}

func TestDriver_SkipsComments(t *testing.T) {
	buf := newBuffer(t, nil, "; header", "G0 X0", "(trailer)")
	tr := newFakeTransport()
	d := NewDriver(tr, buf, Config{})

	_, err := d.Handle(DefaultBanner)
	require.NoError(t, err)
	assert.Equal(t, []string{"G0 X0"}, tr.Written())
	assert.False(t, buf.Done())

	res, err := d.Handle("ok")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Sent)
}

func TestDriver_Faults(t *testing.T) {
	tests := []struct {
		line string
		kind FaultKind
		code string
	}{
		{"ALARM:2", FaultAlarm, "2"},
		{"error:22", FaultError, "22"},
		{"[MSG:Reset to continue]", FaultMessage, ""},
		{DefaultBanner, FaultReset, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			buf := newBuffer(t, nil, "G1 X1 F100", "G1 X2")
			tr := newFakeTransport()
			d := NewDriver(tr, buf, Config{})

			_, err := d.Handle(DefaultBanner)
			require.NoError(t, err)

			res, err := d.Handle(tt.line)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, OutcomeAborted, res.Outcome)
			assert.False(t, res.Success())
			require.NotNil(t, res.Fault)
			assert.Equal(t, tt.kind, res.Fault.Kind)
			assert.Equal(t, tt.code, res.Fault.Code)
			assert.Equal(t, "G1 X1 F100", res.Fault.Command)
			assert.True(t, buf.Done())
			assert.Equal(t, []string{"G1 X1 F100"}, tr.Written())
		})
	}
}

func TestDriver_AckTimeout(t *testing.T) {
	buf := newBuffer(t, nil, "G4 P10")
	tr := newFakeTransport(DefaultBanner)
	d := NewDriver(tr, buf, Config{AckTimeout: 20 * time.Millisecond})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultTimeout, res.Fault.Kind)
	assert.Equal(t, "G4 P10", res.Fault.Command)
	assert.Equal(t, []string{"G4 P10"}, tr.Written())
}

func TestDriver_StatusOnlyAnswerTimesOut(t *testing.T) {
	buf := newBuffer(t, []string{CmdStatus}, "G1 X1")
	tr := newFakeTransport("<Idle|MPos:0,0,0>")
	d := NewDriver(tr, buf, Config{AckTimeout: 50 * time.Millisecond, AssumeReady: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultTimeout, res.Fault.Kind)
	assert.Equal(t, CmdStatus, res.Fault.Command)
	assert.Equal(t, []string{CmdStatus}, tr.Written())
	assert.Equal(t, "Idle", res.State.Status.Mode)
}

func TestDriver_WelcomeTimeout(t *testing.T) {
	buf := newBuffer(t, nil, "G0 X0")
	tr := newFakeTransport()
	d := NewDriver(tr, buf, Config{AckTimeout: 20 * time.Millisecond})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultTimeout, res.Fault.Kind)
	assert.Empty(t, tr.Written())
}

func TestDriver_Cancel(t *testing.T) {
	buf := newBuffer(t, nil, "G0 X0", "G0 X1")
	tr := newFakeTransport(DefaultBanner)
	d := NewDriver(tr, buf, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result)
	go func() {
		res, err := d.Run(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	assert.Eventually(t, func() bool { return len(tr.Written()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, OutcomeCanceled, res.Outcome)
		assert.Nil(t, res.Fault)
		assert.Equal(t, 1, res.Sent)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop after cancel")
	}
}

func TestDriver_TransportClosed(t *testing.T) {
	buf := newBuffer(t, nil, "G0 X0")
	tr := newFakeTransport(DefaultBanner)
	tr.readErr = errors.New("device unplugged")
	close(tr.lines)

	d := NewDriver(tr, buf, Config{})
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultTransport, res.Fault.Kind)
	assert.Equal(t, "device unplugged", res.Fault.Message)
}

func TestDriver_WriteError(t *testing.T) {
	buf := newBuffer(t, nil, "G0 X0")
	tr := newFakeTransport()
	tr.writeErr = errors.New("write failed")
	d := NewDriver(tr, buf, Config{})

	res, err := d.Handle(DefaultBanner)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, FaultTransport, res.Fault.Kind)
	assert.Equal(t, 0, res.Sent)
}

func TestDriver_StatusPolling(t *testing.T) {
	buf := newBuffer(t, nil, "G0 X0")
	tr := newFakeTransport()
	d := NewDriver(tr, buf, Config{AssumeReady: true, StatusInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return tr.Polls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	// polls never go through the line buffer
	assert.Equal(t, []string{"G0 X0"}, tr.Written())
}

func TestDriver_EmptyJob(t *testing.T) {
	buf := newBuffer(t, []string{"; nothing to do"})
	d := NewDriver(newFakeTransport(), buf, Config{AssumeReady: true})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 0, res.Sent)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:01:05", FormatDuration(65*time.Second+300*time.Millisecond))
	assert.Equal(t, "26:03:04", FormatDuration(26*time.Hour+3*time.Minute+4*time.Second))
}
