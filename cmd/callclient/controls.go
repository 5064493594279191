package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// mediaControls is the part of the coordinator driven from the terminal.
type mediaControls interface {
	SetCameraEnabled(enabled bool)
	SetMicEnabled(enabled bool)
}

const commandHelp = "commands: camera on|off, mic on|off, quit"

// readCommands applies terminal commands until r ends. quit is closed when
// the user asks to leave; end of input leaves the call running.
func readCommands(r io.Reader, out io.Writer, c mediaControls, quit chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(strings.ToLower(scanner.Text()))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "q", "leave":
			close(quit)
			return
		case "camera", "cam", "video", "mic", "audio":
			on, ok := parseToggle(fields)
			if !ok {
				fmt.Fprintln(out, commandHelp)
				continue
			}
			if fields[0] == "mic" || fields[0] == "audio" {
				c.SetMicEnabled(on)
				fmt.Fprintf(out, "microphone %s\n", onOff(on))
			} else {
				c.SetCameraEnabled(on)
				fmt.Fprintf(out, "camera %s\n", onOff(on))
			}
		default:
			fmt.Fprintln(out, commandHelp)
		}
	}
}

func parseToggle(fields []string) (bool, bool) {
	if len(fields) != 2 {
		return false, false
	}
	switch fields[1] {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
