package bulk

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// MaxLineLength bounds a single JSONL line. Result files occasionally carry
// corrupt lines; anything past this is treated as a failed operation.
const MaxLineLength = 65535 * 20

// maxSkipChunks bounds the discard loop on an over-long line so a stream of
// garbage cannot spin forever.
const maxSkipChunks = 4096

// LineReader reads one JSONL line at a time with a length guard.
type LineReader struct {
	reader *bufio.Reader
	line   int
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Line reports the 1-based number of the most recently read line.
func (lr *LineReader) Line() int {
	return lr.line
}

// ReadLine returns the next line without its terminator, io.EOF at end of
// stream, or a parse error when the line exceeds MaxLineLength. On an
// over-long line the rest of the line is discarded before returning so the
// caller sees a consistent failure.
func (lr *LineReader) ReadLine() ([]byte, error) {
	var buf bytes.Buffer
	for {
		fragment, err := lr.reader.ReadSlice('\n')
		buf.Write(fragment)

		if buf.Len() > MaxLineLength {
			if discardErr := lr.discardToEOL(err); discardErr != nil && discardErr != io.EOF {
				return nil, discardErr
			}
			lr.line++
			return nil, pkgerrors.New(pkgerrors.CodeParse,
				fmt.Sprintf("line %d exceeds %d bytes", lr.line, MaxLineLength))
		}

		switch err {
		case nil:
			lr.line++
			return bytes.TrimRight(buf.Bytes(), "\r\n"), nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if buf.Len() == 0 {
				return nil, io.EOF
			}
			lr.line++
			return bytes.TrimRight(buf.Bytes(), "\r\n"), nil
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "reading jsonl stream")
		}
	}
}

func (lr *LineReader) discardToEOL(lastErr error) error {
	if lastErr == nil || lastErr == io.EOF {
		return lastErr
	}
	for i := 0; i < maxSkipChunks; i++ {
		fragment, err := lr.reader.ReadSlice('\n')
		_ = fragment
		switch err {
		case nil, io.EOF:
			return err
		case bufio.ErrBufferFull:
			continue
		default:
			return pkgerrors.Wrap(pkgerrors.CodeInfra, err, "discarding over-long line")
		}
	}
	return pkgerrors.New(pkgerrors.CodeParse, "over-long line did not terminate")
}
