package control

import (
	"strings"

	"github.com/kc2g-flex-tools/flexdv/errutil"
	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/keyvalue"
)

func (t *Task) processLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return
	}
	switch line[0] {
	case 'V':
		t.logger.Info("radio protocol version", "version", line[1:])
	case 'H':
		t.logger.Info("connection handle", "handle", line[1:])
		t.initializeWaveforms()
	case 'R':
		t.logger.Debug("received response", "line", line)
		t.handleResponse(line)
	case 'S':
		t.logger.Debug("received status", "line", line)
		t.handleStatus(line)
	case 'M':
		t.logger.Debug("radio message", "line", line)
	default:
		t.logger.Warn("unhandled line from radio", "line", line)
	}
}

// handleStatus processes "S<hex client>|<name> <params>".
func (t *Task) handleStatus(line string) {
	client, status, ok := strings.Cut(line[1:], "|")
	if !ok {
		t.logger.Warn("malformed status", "line", line)
		return
	}
	name, params, _ := strings.Cut(status, " ")

	switch name {
	case "slice":
		idStr, rest, _ := strings.Cut(params, " ")
		id := errutil.MustParseInt(t.logger, idStr, "slice id")
		t.onSliceStatus(id, keyvalue.Parse(rest))
	case "interlock":
		// interlock fields may be joined with '#' as well as spaces
		t.onInterlockStatus(keyvalue.Parse(params, ' ', '#'))
	case "radio":
		if callsign, ok := keyvalue.Parse(params)["callsign"]; ok {
			t.logger.Info("got callsign", "callsign", callsign)
			t.sink.Publish(events.CallsignReceived{Callsign: callsign})
		}
	case "gps":
		if grid, ok := keyvalue.Parse(params, '#')["grid"]; ok {
			t.logger.Info("got grid square", "grid", grid)
			t.sink.Publish(events.GridSquareUpdated{Grid: grid})
		}
	default:
		t.logger.Warn("unknown status update", "client", client, "name", name)
	}
}
