package transport

import (
	"context"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{
			name: "qr data url",
			line: "QR_DATAURL:data:image/png;base64,iVBOR",
			want: Event{Kind: EventQR, Payload: "data:image/png;base64,iVBOR"},
			ok:   true,
		},
		{
			name: "qr raw",
			line: "QR_RAW:2@abc123,def456",
			want: Event{Kind: EventQRRaw, Payload: "2@abc123,def456"},
			ok:   true,
		},
		{
			name: "authenticated",
			line: "STATUS:authenticated",
			want: Event{Kind: EventAuthenticated},
			ok:   true,
		},
		{
			name: "ready",
			line: "STATUS:ready",
			want: Event{Kind: EventReady},
			ok:   true,
		},
		{
			name: "disconnected with detail",
			line: "STATUS:disconnected:connection reset",
			want: Event{Kind: EventDisconnected, Detail: "connection reset"},
			ok:   true,
		},
		{
			name: "error detail keeps embedded colons",
			line: "STATUS:error:auth failed: code 401",
			want: Event{Kind: EventError, Detail: "auth failed: code 401"},
			ok:   true,
		},
		{
			name: "trailing carriage return stripped",
			line: "STATUS:ready\r",
			want: Event{Kind: EventReady},
			ok:   true,
		},
		{name: "unknown status state", line: "STATUS:rebooting"},
		{name: "free-form log line", line: "worker booting up"},
		{name: "empty line", line: ""},
		{name: "marker mid-line is not a marker", line: "info STATUS:ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Fatalf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

// collect drains the event stream until it closes, guarding against a
// wedged worker with a timeout.
func collect(t *testing.T, p *Process) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event channel did not close; got %+v so far", events)
		}
	}
}

func TestProcessMarkerStream(t *testing.T) {
	script := `
printf 'QR_DATAURL:data:image/png;base64,abc\n'
printf 'some free-form log line\n'
printf 'STATUS:authenticated\n'
printf 'STATUS:ready\n'
printf 'STATUS:disconnected:remote hung up\n'
exit 3
`
	p := NewProcess(ProcessConfig{Command: "/bin/sh", Args: []string{"-c", script}}, "alice", t.TempDir())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	events := collect(t, p)
	want := []Event{
		{Kind: EventQR, Payload: "data:image/png;base64,abc"},
		{Kind: EventAuthenticated},
		{Kind: EventReady},
		{Kind: EventDisconnected, Detail: "remote hung up"},
		{Kind: EventExited, ExitCode: 3},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events %+v, want %d", len(events), events, len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event[%d] = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestProcessStopKillsWorker(t *testing.T) {
	p := NewProcess(ProcessConfig{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}}, "alice", t.TempDir())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Stop()
	p.Stop() // idempotent

	events := collect(t, p)
	if len(events) == 0 {
		t.Fatal("want a terminal exited event")
	}
	last := events[len(events)-1]
	if last.Kind != EventExited {
		t.Fatalf("last event = %+v, want exited", last)
	}
	if last.Signal == "" && last.ExitCode == 0 {
		t.Fatalf("exited event = %+v, want a kill signal or nonzero code", last)
	}
}

func TestProcessStopBeforeStart(t *testing.T) {
	p := NewProcess(ProcessConfig{Command: "/bin/sh"}, "alice", t.TempDir())
	p.Stop()
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start after Stop must fail")
	}
}

func TestProcessStartTwice(t *testing.T) {
	p := NewProcess(ProcessConfig{Command: "/bin/sh", Args: []string{"-c", "exit 0"}}, "alice", t.TempDir())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail")
	}
	collect(t, p)
}
