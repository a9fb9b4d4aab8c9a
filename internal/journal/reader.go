package journal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineLength     = 4 * 1024 * 1024
)

// ErrLineTooLong is wrapped by the LineError for a line longer than the
// reader accepts. The rest of the line is discarded.
var ErrLineTooLong = errors.New("journal: line too long")

// LineError reports a line that could not be turned into an event.
// Readers return it and stay usable; the next call moves on to the next line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Reader yields events from a journal stream in file order.
type Reader struct {
	br        *bufio.Reader
	line      int
	validator *Validator
}

// NewReader returns a Reader over r. When v is non-nil every event it has a
// schema for is validated before being returned.
func NewReader(r io.Reader, v *Validator) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, initialLineBuffer), validator: v}
}

// Next returns the next event. Malformed lines produce a *LineError; the end
// of input produces io.EOF. Any other error means the stream itself failed.
func (r *Reader) Next() (*Event, error) {
	for {
		b, err := r.readLine()
		if errors.Is(err, ErrLineTooLong) {
			return nil, &LineError{Line: r.line, Err: err}
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}

		e, err := Parse(b)
		if err != nil {
			return nil, &LineError{Line: r.line, Err: err}
		}
		if r.validator != nil {
			if err := r.validator.Validate(e); err != nil {
				return nil, &LineError{Line: r.line, Err: err}
			}
		}
		return e, nil
	}
}

// readLine returns the next line without its terminator. A final line
// without a newline is still returned; io.EOF follows it.
func (r *Reader) readLine() ([]byte, error) {
	var (
		line    []byte
		dropped bool
		n       int
	)
	for {
		chunk, err := r.br.ReadSlice('\n')
		n += len(chunk)
		if !dropped && len(line)+len(chunk) <= maxLineLength+2 {
			line = append(line, chunk...)
		} else {
			dropped = true
			line = nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && n > 0 {
			break
		}
		if err != nil {
			return nil, err
		}
		break
	}
	r.line++
	if dropped {
		return nil, fmt.Errorf("%w: %d bytes", ErrLineTooLong, n)
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > maxLineLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrLineTooLong, n)
	}
	return line, nil
}

// Line returns the number of the line last read.
func (r *Reader) Line() int {
	return r.line
}
