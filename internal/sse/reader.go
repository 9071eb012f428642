// ABOUTME: Incremental Server-Sent Events parser used by stream clients
// ABOUTME: Yields one Message per blank-line-terminated event block

package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 4 << 20

// Message is one parsed event block.
type Message struct {
	Event string
	Data  string
	ID    string
}

// Reader parses an event stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// Next returns the next event that carries data. It returns io.EOF when the
// stream ends cleanly. A trailing block without its blank line is still
// delivered.
func (r *Reader) Next() (Message, error) {
	var msg Message
	var dataLines []string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				msg.Data = strings.Join(dataLines, "\n")
				if msg.Event == "" {
					msg.Event = EventName
				}
				return msg, nil
			}
			msg = Message{}
			continue
		}

		// Comment lines are keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			msg.ID = value
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Message{}, err
	}
	if len(dataLines) > 0 {
		msg.Data = strings.Join(dataLines, "\n")
		if msg.Event == "" {
			msg.Event = EventName
		}
		return msg, nil
	}
	return Message{}, io.EOF
}
