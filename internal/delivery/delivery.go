// Package delivery writes a finished WAV file to an HTTP response, either in
// one piece or as a chunked stream.
//
// Streamed delivery sends the bytes of a file that has already been fully
// synthesized. It does not lower time-to-first-audio compared with buffered
// delivery; it only avoids holding the whole file in memory.
package delivery

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
)

// ContentTypeWAV is sent for every audio response.
const ContentTypeWAV = "audio/wav"

// DefaultChunkSize is the streamed chunk size when none is configured.
const DefaultChunkSize = 32 * 1024

// Mode selects how a file is returned.
type Mode int

const (
	Buffered Mode = iota
	Streamed
)

func (m Mode) String() string {
	if m == Streamed {
		return "streamed"
	}

	return "buffered"
}

// ModeFor maps the stream form flag to a Mode.
func ModeFor(stream bool) Mode {
	if stream {
		return Streamed
	}

	return Buffered
}

// Handle names a persisted file ready for delivery.
type Handle struct {
	Path     string
	Filename string
	Mode     Mode
}

// Options tunes Deliver.
type Options struct {
	ChunkSize int
	Logger    *slog.Logger
}

// Chunks yields successive reads of up to size bytes from r. The sequence is
// finite and single-use; iteration stops at EOF or after yielding an error.
func Chunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}

	return func(yield func([]byte, error) bool) {
		buf := make([]byte, size)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Deliver writes h to w. Errors before the first byte is written are
// returned so the caller can answer with a status; transport failures after
// that are logged and dropped once the file has been closed.
func Deliver(w http.ResponseWriter, h Handle, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	f, err := os.Open(h.Path)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", ContentTypeWAV)
	if h.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": h.Filename}))
	}

	if h.Mode == Streamed {
		streamFile(w, f, opts.ChunkSize, log)
		return nil
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		log.Warn("buffered delivery aborted", slog.String("file", h.Filename), slog.String("error", err.Error()))
	}

	return nil
}

func streamFile(w http.ResponseWriter, f *os.File, size int, log *slog.Logger) {
	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)

	var sent int64
	for chunk, err := range Chunks(f, size) {
		if err != nil {
			log.Warn("streamed delivery read failed", slog.Int64("bytes_sent", sent), slog.String("error", err.Error()))
			return
		}

		n, err := w.Write(chunk)
		sent += int64(n)
		if err != nil {
			log.Debug("client went away during stream", slog.Int64("bytes_sent", sent), slog.String("error", err.Error()))
			return
		}

		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Debug("flush failed during stream", slog.Int64("bytes_sent", sent), slog.String("error", err.Error()))
			return
		}
	}
}
