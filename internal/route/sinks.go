package route

import (
	"fmt"
	"strconv"
	"strings"
)

// Sink describes one output as reported by `pactl list short sinks`.
type Sink struct {
	Index  int
	Name   string
	Driver string
	Spec   string // sample format, e.g. "s16le 2ch 44100Hz"
	State  string // RUNNING, IDLE or SUSPENDED
}

// Sinks lists the outputs the sound server currently exposes. Lines that do
// not parse are skipped rather than failing the whole listing.
func Sinks() ([]Sink, error) {
	out, err := runPactl("list", "short", "sinks")
	if err != nil {
		return nil, fmt.Errorf("listing sinks: %w", err)
	}

	var sinks []Sink
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		s := Sink{Index: idx, Name: fields[1]}
		if len(fields) > 2 {
			s.Driver = fields[2]
		}
		if len(fields) > 3 {
			s.Spec = fields[3]
		}
		if len(fields) > 4 {
			s.State = fields[4]
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// DefaultSink returns the name of the server's current default output.
func DefaultSink() (string, error) {
	out, err := runPactl("get-default-sink")
	if err != nil {
		return "", fmt.Errorf("querying default sink: %w", err)
	}
	if out == "" {
		return "", fmt.Errorf("sound server reported no default sink")
	}
	return out, nil
}
