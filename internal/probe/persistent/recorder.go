package persistent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 10000
	snapLen           = 65536
)

// Frame is one captured frame waiting to be recorded.
type Frame struct {
	CaptureInfo gopacket.CaptureInfo
	Data        []byte
}

// Recorder writes captured frames to a pcap file in the background so that
// the capture loop never waits on disk. The file can be replayed later with
// the offline classifier.
type Recorder struct {
	frames  chan Frame
	file    *os.File
	writer  *pcapgo.Writer
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  *zap.Logger

	// mu guards stopped so Enqueue never sends on the closed channel.
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

// NewRecorder creates <dir>/<timestamp>.pcap and starts the writer goroutine.
func NewRecorder(dir string, bufferSize int, logger *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	filePath := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+".pcap")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap file header: %w", err)
	}

	r := &Recorder{
		frames: make(chan Frame, bufferSize),
		file:   file,
		writer: writer,
		logger: logger,
	}
	r.wg.Add(1)
	go r.run()
	logger.Info("Recorder started", zap.String("path", filePath))
	return r, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.file.Name()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for f := range r.frames {
		if err := r.writer.WritePacket(f.CaptureInfo, f.Data); err != nil {
			r.logger.Warn("Error recording frame", zap.Error(err))
		}
	}
}

// Enqueue queues a frame for recording, dropping it when the buffer is full.
// data is copied, so capture buffers may be reused by the caller.
func (r *Recorder) Enqueue(ci gopacket.CaptureInfo, data []byte) bool {
	f := Frame{CaptureInfo: ci, Data: append([]byte(nil), data...)}
	if f.CaptureInfo.CaptureLength == 0 {
		f.CaptureInfo.CaptureLength = len(data)
	}
	if f.CaptureInfo.Length == 0 {
		f.CaptureInfo.Length = len(data)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}
	select {
	case r.frames <- f:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Stop writes out every queued frame and closes the file.
func (r *Recorder) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		close(r.frames)
		r.mu.Unlock()

		r.wg.Wait()
		if err := r.file.Close(); err != nil {
			r.stopErr = fmt.Errorf("failed to close recording file: %w", err)
			return
		}
		r.logger.Info("Recorder stopped and file closed.", zap.String("path", r.file.Name()), zap.Uint64("dropped", r.dropped.Load()))
	})
	return r.stopErr
}
