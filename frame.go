package mcp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// ContentLengthHeader is the LSP-style header naming the byte length of the
// frame body that follows it (spec §4.2).
const ContentLengthHeader = "Content-Length"

const headerSeparator = "\r\n\r\n"

// FrameReader decodes a stream of length-prefixed JSON frames from an
// io.Reader (component C2, stdio direction in). It buffers across reads and
// resynchronizes at the next header terminator on a malformed header
// instead of failing the whole stream (spec §4.2).
type FrameReader struct {
	br     *bufio.Reader
	logger *slog.Logger
}

// NewFrameReader wraps r in a buffered Content-Length frame reader.
func NewFrameReader(r io.Reader, logger *slog.Logger) *FrameReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameReader{br: bufio.NewReader(r), logger: logger.With(slog.String("component", "frame_reader"))}
}

// ReadFrame returns the next frame's JSON body. It returns io.EOF when the
// underlying reader is exhausted with no partial frame pending.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	for {
		contentLength, err := f.readHeaders()
		if err != nil {
			return nil, err
		}
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(f.br, body); err != nil {
			return nil, fmt.Errorf("failed to read frame body: %w", err)
		}
		return body, nil
	}
}

// readHeaders consumes header lines up to and including the blank line,
// returning the parsed Content-Length. On a malformed header block it logs
// and skips that block (its blank-line terminator is already consumed), then
// reads the next block, rather than returning an error that would kill the
// whole stream.
func (f *FrameReader) readHeaders() (int, error) {
	for {
		var headerLines []string
		for {
			line, err := f.br.ReadString('\n')
			if err != nil {
				return 0, err
			}
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == "" {
				break
			}
			headerLines = append(headerLines, trimmed)
		}

		contentLength := -1
		malformed := false
		for _, line := range headerLines {
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				malformed = true
				continue
			}
			if !strings.EqualFold(strings.TrimSpace(name), ContentLengthHeader) {
				continue
			}
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				malformed = true
				continue
			}
			contentLength = n
		}

		if malformed || contentLength < 0 {
			f.logger.Warn("malformed frame header, resynchronizing")
			continue
		}
		return contentLength, nil
	}
}

// resync discards bytes up to and including the next header terminator.
func (f *FrameReader) resync() error {
	var window bytes.Buffer
	sep := []byte(headerSeparator)
	for {
		b, err := f.br.ReadByte()
		if err != nil {
			return err
		}
		window.WriteByte(b)
		if window.Len() > len(sep) {
			window.Next(window.Len() - len(sep))
		}
		if bytes.Equal(window.Bytes(), sep) {
			return nil
		}
	}
}

// FrameWriter encodes JSON payloads as length-prefixed frames onto an
// io.Writer (component C2, stdio direction out). Writes are serialized
// with a mutex so a single multi-byte frame is never interleaved with
// another, matching the atomicity requirement in spec §4.2 and §5.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps w in a Content-Length frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame emits the Content-Length header followed by the exact payload
// bytes, flushing if the underlying writer supports it.
func (f *FrameWriter) WriteFrame(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	header := fmt.Sprintf("%s: %d%s", ContentLengthHeader, len(payload), headerSeparator)
	if _, err := io.WriteString(f.w, header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := f.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	if flusher, ok := f.w.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			return fmt.Errorf("failed to flush frame: %w", err)
		}
	}
	return nil
}
