package logger

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// AsyncConsoleHook mirrors entries at or above a minimum level to a console
// stream from a background goroutine. Entries are dropped, and counted,
// while the queue is full so a slow terminal never stalls request handling.
type AsyncConsoleHook struct {
	out     io.Writer
	levels  []logrus.Level
	queue   chan string
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

func NewAsyncConsoleHook(out io.Writer, minLevel logrus.Level, queueSize int) *AsyncConsoleHook {
	h := &AsyncConsoleHook{
		out:    out,
		levels: levelsUpTo(minLevel),
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// levelsUpTo returns every level at least as severe as min.
func levelsUpTo(min logrus.Level) []logrus.Level {
	out := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= min {
			out = append(out, l)
		}
	}
	return out
}

func (h *AsyncConsoleHook) Levels() []logrus.Level {
	return h.levels
}

func (h *AsyncConsoleHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	select {
	case h.queue <- line:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many entries were discarded on a full queue.
func (h *AsyncConsoleHook) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *AsyncConsoleHook) run() {
	defer h.wg.Done()
	for {
		select {
		case line := <-h.queue:
			_, _ = io.WriteString(h.out, line)
		case <-h.done:
			for {
				select {
				case line := <-h.queue:
					_, _ = io.WriteString(h.out, line)
				default:
					return
				}
			}
		}
	}
}

// Close drains queued entries. It is safe to call more than once.
func (h *AsyncConsoleHook) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.wg.Wait()
	})
	return nil
}
