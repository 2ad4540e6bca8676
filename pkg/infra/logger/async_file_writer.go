package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const fileFlushInterval = 2 * time.Second

// AsyncFileWriter appends log lines to a file from a background goroutine.
// The buffer is flushed periodically and on Close.
type AsyncFileWriter struct {
	writer  *bufio.Writer
	file    *os.File
	queue   chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

func NewAsyncFileWriter(path string, bufferSize, queueSize int) (*AsyncFileWriter, error) {
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	w := &AsyncFileWriter{
		writer: bufio.NewWriterSize(file, bufferSize),
		file:   file,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Write never blocks. Lines are dropped, and counted, while the queue is
// full.
func (w *AsyncFileWriter) Write(p []byte) (int, error) {
	select {
	case w.queue <- append([]byte(nil), p...):
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

func (w *AsyncFileWriter) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *AsyncFileWriter) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(fileFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case line := <-w.queue:
			w.write(line)
		case <-ticker.C:
			w.flush()
		case <-w.done:
			for {
				select {
				case line := <-w.queue:
					w.write(line)
				default:
					w.flush()
					return
				}
			}
		}
	}
}

func (w *AsyncFileWriter) write(line []byte) {
	if _, err := w.writer.Write(line); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write log line:", err)
	}
}

func (w *AsyncFileWriter) flush() {
	if err := w.writer.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to flush log file:", err)
	}
}

// Close drains pending lines, flushes and closes the file.
func (w *AsyncFileWriter) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.file.Close()
	})
	return err
}
