package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type recordingControls struct {
	calls []string
}

func (r *recordingControls) SetCameraEnabled(enabled bool) {
	r.calls = append(r.calls, fmt.Sprintf("camera=%t", enabled))
}

func (r *recordingControls) SetMicEnabled(enabled bool) {
	r.calls = append(r.calls, fmt.Sprintf("mic=%t", enabled))
}

func TestReadCommands_TogglesAndQuit(t *testing.T) {
	var out bytes.Buffer
	rec := &recordingControls{}
	quit := make(chan struct{})

	in := strings.NewReader("camera off\n\nMIC off\nmic maybe\nmic on\nquit\ncamera on\n")
	readCommands(in, &out, rec, quit)

	want := "camera=false,mic=false,mic=true"
	if got := strings.Join(rec.calls, ","); got != want {
		t.Fatalf("calls=%s, want %s", got, want)
	}
	select {
	case <-quit:
	default:
		t.Fatalf("quit not closed after quit command")
	}
	if !strings.Contains(out.String(), commandHelp) {
		t.Fatalf("output missing help for a bad command:\n%s", out.String())
	}
}

func TestReadCommands_EndOfInputKeepsCall(t *testing.T) {
	rec := &recordingControls{}
	quit := make(chan struct{})

	readCommands(strings.NewReader("cam off\n"), &bytes.Buffer{}, rec, quit)

	select {
	case <-quit:
		t.Fatalf("quit closed at end of input")
	default:
	}
	if len(rec.calls) != 1 || rec.calls[0] != "camera=false" {
		t.Fatalf("calls=%v", rec.calls)
	}
}
