package openai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// streamSSE reads a text/event-stream body and invokes onEvent once per
// event with the event name and the joined data payload.
func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	var (
		br   = bufio.NewReader(r)
		name string
		data []string
	)

	dispatch := func() error {
		if len(data) == 0 {
			name = ""
			return nil
		}
		ev, payload := name, strings.Join(data, "\n")
		name, data = "", nil
		if onEvent == nil {
			return nil
		}
		return onEvent(ev, payload)
	}

	for {
		raw, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dispatch()
			}
			return err
		}

		switch line := strings.TrimRight(raw, "\r\n"); {
		case line == "":
			// blank line terminates the event
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment, skip
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
