package usecase

import (
	"errors"
	"io"
	"os"
	"sync"

	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

const defaultChunkSize = 4096

// fragmentBuffer is the append-only fragment sequence of one capture session.
type fragmentBuffer struct {
	mu        sync.Mutex
	fragments [][]byte
	size      int
}

func newFragmentBuffer() *fragmentBuffer {
	return &fragmentBuffer{}
}

// Append stores a copy of fragment. Zero-length fragments are dropped.
func (b *fragmentBuffer) Append(fragment []byte) bool {
	if len(fragment) == 0 {
		return false
	}
	copied := append([]byte(nil), fragment...)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = append(b.fragments, copied)
	b.size += len(copied)
	return true
}

// Assemble concatenates the fragments in arrival order.
func (b *fragmentBuffer) Assemble() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload := make([]byte, 0, b.size)
	for _, fragment := range b.fragments {
		payload = append(payload, fragment...)
	}
	return payload
}

func (b *fragmentBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fragments)
}

// pumpFragments reads the device until EOF and appends every fragment to buffer.
func pumpFragments(
	audio ports.AudioSession,
	buffer *fragmentBuffer,
	chunkSize int,
	log *logger.Logger,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			buffer.Append(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				log.Warn("audio capture read failed", map[string]interface{}{logger.FieldError: err})
			}
			return
		}
	}
}
