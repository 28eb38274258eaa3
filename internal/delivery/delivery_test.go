package delivery

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"testing/iotest"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}

	return b
}

func TestChunks_SplitsAndReassembles(t *testing.T) {
	data := payload(100)

	var sizes []int
	var got []byte
	for chunk, err := range Chunks(bytes.NewReader(data), 30) {
		if err != nil {
			t.Fatalf("chunk error: %v", err)
		}
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}

	if !bytes.Equal(got, data) {
		t.Error("reassembled chunks differ from input")
	}
	if len(sizes) != 4 || sizes[3] != 10 {
		t.Errorf("chunk sizes = %v; want [30 30 30 10]", sizes)
	}
}

func TestChunks_StopsEarly(t *testing.T) {
	count := 0
	for range Chunks(bytes.NewReader(payload(100)), 10) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("count = %d", count)
	}
}

func TestChunks_YieldsReadError(t *testing.T) {
	boom := errors.New("disk gone")

	var gotErr error
	n := 0
	for _, err := range Chunks(iotest.ErrReader(boom), 10) {
		n++
		gotErr = err
	}
	if n != 1 || !errors.Is(gotErr, boom) {
		t.Errorf("got %d items, err %v; want one item with read error", n, gotErr)
	}
}

func TestDeliver_Buffered(t *testing.T) {
	data := payload(5000)
	path := writeTemp(t, data)

	rec := httptest.NewRecorder()
	err := Deliver(rec, Handle{Path: path, Filename: "20250101T120000-abc.wav", Mode: Buffered}, Options{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ContentTypeWAV {
		t.Errorf("Content-Type = %q", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(len(data)) {
		t.Errorf("Content-Length = %q", cl)
	}

	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("parse Content-Disposition: %v", err)
	}
	if params["filename"] != "20250101T120000-abc.wav" {
		t.Errorf("filename = %q", params["filename"])
	}

	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("body differs from file")
	}
}

func TestDeliver_StreamedMatchesBuffered(t *testing.T) {
	data := payload(10_000)
	path := writeTemp(t, data)

	buffered := httptest.NewRecorder()
	if err := Deliver(buffered, Handle{Path: path, Mode: Buffered}, Options{}); err != nil {
		t.Fatal(err)
	}

	streamed := httptest.NewRecorder()
	if err := Deliver(streamed, Handle{Path: path, Mode: Streamed}, Options{ChunkSize: 1024}); err != nil {
		t.Fatal(err)
	}

	if !streamed.Flushed {
		t.Error("streamed delivery never flushed")
	}
	if streamed.Header().Get("Content-Length") != "" {
		t.Error("streamed delivery must not set Content-Length")
	}
	if ct := streamed.Header().Get("Content-Type"); ct != ContentTypeWAV {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Equal(streamed.Body.Bytes(), buffered.Body.Bytes()) {
		t.Error("streamed bytes differ from buffered bytes")
	}
}

// brokenWriter fails every write after the first.
type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int)     {}
func (b *brokenWriter) Write(p []byte) (int, error) {
	b.writes++
	if b.writes > 1 {
		return 0, io.ErrClosedPipe
	}

	return len(p), nil
}

func TestDeliver_StreamSwallowsTransportErrors(t *testing.T) {
	path := writeTemp(t, payload(10_000))
	w := &brokenWriter{header: http.Header{}}

	if err := Deliver(w, Handle{Path: path, Mode: Streamed}, Options{ChunkSize: 1000}); err != nil {
		t.Fatalf("transport error leaked: %v", err)
	}
	if w.writes != 2 {
		t.Errorf("writes = %d; want stream to stop after the failed write", w.writes)
	}

	// The handle is closed, so the file can be removed and reopened freely.
	if err := os.Remove(path); err != nil {
		t.Errorf("remove after delivery: %v", err)
	}
}

func TestDeliver_MissingFile(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Deliver(rec, Handle{Path: filepath.Join(t.TempDir(), "nope.wav")}, Options{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if rec.Body.Len() != 0 {
		t.Error("bytes written before failure")
	}
}

func TestModeFor(t *testing.T) {
	if ModeFor(true) != Streamed || ModeFor(false) != Buffered {
		t.Error("ModeFor mapping wrong")
	}
	if Streamed.String() != "streamed" || Buffered.String() != "buffered" {
		t.Error("Mode.String wrong")
	}
}
