// Package utils provides utility functions and types shared across PitchBox.
package utils

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LogInterceptor is an io.Writer that prefixes every line written to the
// client's log file with a sequence number and a wall-clock timestamp.
// Sequence numbers keep interleaved upload worker output orderable after
// the fact, even when two runs append to the same file.
type LogInterceptor struct {
	mu     sync.Mutex
	target io.Writer
	seq    uint64
	buf    bytes.Buffer
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target}
}

// Write buffers p and emits every complete line with its prefix. A trailing
// partial line stays buffered until the next Write or Close.
func (l *LogInterceptor) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Partial tail goes back until its newline arrives.
			l.buf.WriteString(line)
			return len(p), nil
		}
		if werr := l.emit(strings.TrimRight(line, "\r\n")); werr != nil {
			return len(p), werr
		}
	}
}

// Close flushes a trailing line that never got its newline.
func (l *LogInterceptor) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buf.Len() == 0 {
		return nil
	}
	line := l.buf.String()
	l.buf.Reset()
	return l.emit(line)
}

func (l *LogInterceptor) emit(line string) error {
	l.seq++
	_, err := fmt.Fprintf(l.target, "line=%d time=%s %s\n", l.seq, time.Now().Format(time.RFC3339), line)
	return err
}
