package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"globelod/pkg/logging"
)

// maxParamLen drops attributes whose value would crowd the status line.
const maxParamLen = 20

// Matches key=value or key="value with spaces".
var logRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

// LineResponse is the body of the log endpoints. Seq grows with every captured line.
type LineResponse struct {
	Log string `json:"log"`
	Seq uint64 `json:"seq"`
}

// handleLatestLog returns the last captured server log line.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	line, seq := logging.GlobalLogCapture.Last()
	writeLine(w, formatLogLine(line), seq)
}

// handleLatestEvent returns the last status event line as written to the event log.
func handleLatestEvent(w http.ResponseWriter, r *http.Request) {
	line, seq := logging.GlobalEventCapture.Last()
	writeLine(w, line, seq)
}

func writeLine(w http.ResponseWriter, line string, seq uint64) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(LineResponse{Log: line, Seq: seq}); err != nil {
		slog.Error("Failed to write log response", "error", err)
	}
}

// formatLogLine condenses a slog text line to "HH:MM:SS msg (k=v, ...)".
// Level is dropped, the remaining attributes are sorted and long values are omitted.
func formatLogLine(raw string) string {
	matches := logRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg, clock string
	params := make([]string, 0, len(matches))

	for _, m := range matches {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				clock = t.Format("15:04:05")
			}
		case "level":
		case "msg":
			msg = val
		default:
			if len(val) <= maxParamLen {
				params = append(params, key+"="+val)
			}
		}
	}

	if msg == "" {
		return raw
	}
	sort.Strings(params)

	var b strings.Builder
	if clock != "" {
		b.WriteString(clock)
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	if len(params) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(params, ", "))
		b.WriteByte(')')
	}
	return b.String()
}
