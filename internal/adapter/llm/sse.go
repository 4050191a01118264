package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"codegen-agent/internal/domain"
)

// sseParser turns one server-sent event into a delta. A nil delta skips the
// event; a delta with Done or Err ends the stream.
type sseParser func(event string, data []byte) (*domain.StreamDelta, error)

// maxSSELine bounds a single SSE line. Tool input deltas can be large.
const maxSSELine = 1 << 20

// parseSSEStream reads "event:" / "data:" pairs from body and feeds each
// completed event to parse. The returned channel is closed when the stream
// ends, after an Err delta, or when ctx is cancelled. A body that ends before
// a Done delta yields an ErrProviderError delta.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parse sseParser) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

		var event string
		var data []byte
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Bytes()

			switch {
			case len(line) == 0:
				// Blank line terminates the event.
				if len(data) == 0 {
					event = ""
					continue
				}
				if bytes.Equal(data, []byte("[DONE]")) {
					send(domain.StreamDelta{Done: true})
					return
				}
				delta, err := parse(event, data)
				event, data = "", nil
				if err != nil || delta == nil {
					continue
				}
				if !send(*delta) || delta.Done || delta.Err != nil {
					return
				}
			case line[0] == ':':
			case bytes.HasPrefix(line, []byte("event:")):
				event = string(bytes.TrimSpace(line[len("event:"):]))
			case bytes.HasPrefix(line, []byte("data:")):
				chunk := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
				if len(data) > 0 {
					data = append(data, '\n')
				}
				data = append(data, chunk...)
			}
		}

		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		send(domain.StreamDelta{Err: fmt.Errorf("%w: stream ended early: %v", domain.ErrProviderError, err)})
	}()
	return ch
}
