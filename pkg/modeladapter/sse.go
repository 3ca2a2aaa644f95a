package modeladapter

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strings"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"

	maxSSELine = 1 << 20
)

// ReadSSE yields the data payload of every server-sent event in r.
//
// Comment lines (":") and non-data fields are skipped. Consecutive data lines
// of one event are joined with "\n". The sequence ends at the "[DONE]"
// sentinel or at EOF; a read error is yielded once and ends the sequence.
func ReadSSE(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

		var data []string
		flush := func() (string, bool) {
			if len(data) == 0 {
				return "", false
			}
			payload := strings.Join(data, "\n")
			data = data[:0]
			return payload, true
		}

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				payload, ok := flush()
				if !ok {
					continue
				}
				if payload == sseDone {
					return
				}
				if !yield(payload, nil) {
					return
				}
				continue
			}

			if strings.HasPrefix(line, ":") {
				continue
			}

			if v, ok := strings.CutPrefix(line, sseDataPrefix); ok {
				data = append(data, strings.TrimPrefix(v, " "))
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read event stream: %w", err))
			return
		}

		// Some servers close the connection without a trailing blank line.
		if payload, ok := flush(); ok && payload != sseDone {
			yield(payload, nil)
		}
	}
}
