package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Reader reads SSE events from an io.Reader, one frame at a time.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a new SSE reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next SSE event. Returns nil, io.EOF when done.
// Frames whose data is not valid JSON are skipped.
func (r *Reader) Next() (*Event, error) {
	var (
		name string
		data []string
	)
	flush := func() *Event {
		defer func() {
			name = ""
			data = data[:0]
		}()
		if len(data) == 0 {
			return nil
		}
		payload := strings.TrimSpace(strings.Join(data, "\n"))
		if payload == "" || payload == "[DONE]" || !gjson.Valid(payload) {
			return nil
		}
		eventType := gjson.Get(payload, "type").String()
		if eventType == "" {
			eventType = name
		}
		return &Event{Type: eventType, Raw: json.RawMessage(payload)}
	}

	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			if evt := flush(); evt != nil {
				return evt, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimSpace(line[len("data:"):])
			if chunk == "[DONE]" {
				if evt := flush(); evt != nil {
					return evt, nil
				}
				return nil, io.EOF
			}
			data = append(data, chunk)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if evt := flush(); evt != nil {
		return evt, nil
	}
	return nil, io.EOF
}
