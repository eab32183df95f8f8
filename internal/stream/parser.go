// Package stream implements the client side of the push protocol: a
// connector that opens the long-lived request with credentials injected up
// front, a parser for the text frame format, and a run loop that dispatches
// frames in arrival order.
package stream

import (
	"bytes"
	"strings"
)

// Frame is one dispatched event from the stream.
type Frame struct {
	// Event is the frame type; "message" when the stream omits it.
	Event string
	// Data is the raw payload from the data line(s).
	Data []byte
	// ID is the resumption cursor carried by the frame, if any.
	ID string
}

// DefaultEvent is the frame type used when no event line is present.
const DefaultEvent = "message"

// Parser accumulates stream bytes and splits them into frames. Fields may
// span chunk boundaries; a frame is dispatched only when its blank-line
// terminator arrives. Frames without a data line (heartbeats, comments)
// are dropped.
type Parser struct {
	buf       bytes.Buffer
	event     string
	dataLines []string
	id        string
	hasData   bool
}

// Feed appends a chunk and returns all frames completed by it, in order.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf.Write(chunk)

	var frames []Frame
	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return frames
		}
		line := string(raw[:idx])
		p.buf.Next(idx + 1)

		if line == "" {
			if f, ok := p.flush(); ok {
				frames = append(frames, f)
			}
			continue
		}
		p.accumulate(line)
	}
}

func (p *Parser) accumulate(line string) {
	switch {
	case strings.HasPrefix(line, "event: "):
		p.event = strings.TrimPrefix(line, "event: ")
	case strings.HasPrefix(line, "data: "):
		p.dataLines = append(p.dataLines, strings.TrimPrefix(line, "data: "))
		p.hasData = true
	case strings.HasPrefix(line, "id: "):
		p.id = strings.TrimPrefix(line, "id: ")
	}
	// Anything else, including comment lines starting with ':', is
	// ignored.
}

// flush terminates the accumulated frame. Data-less frames are dropped.
func (p *Parser) flush() (Frame, bool) {
	defer func() {
		p.event = ""
		p.dataLines = nil
		p.id = ""
		p.hasData = false
	}()

	if !p.hasData {
		return Frame{}, false
	}
	event := p.event
	if event == "" {
		event = DefaultEvent
	}
	return Frame{
		Event: event,
		Data:  []byte(strings.Join(p.dataLines, "\n")),
		ID:    p.id,
	}, true
}
