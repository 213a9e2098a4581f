// Package devtracer implements the Dev Tracer (C16): an in-process
// alternative to the external tracer process, built on cilium/ebpf's ring
// buffer reader. It degrades to a no-op "mock mode" when no ring buffer can
// be attached — the same degrade shape as the teacher's
// internal/ringbuf.Reader, whose Start checks for a nil ring and logs "Mock
// Mode" rather than failing. Failing to lift the memlock rlimit or to load
// the probe objects is returned by New as an error instead.
package devtracer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// record mirrors the C struct a real probe would write into the ring
// buffer: pid, event discriminator, and a fixed-size evt string.
type record struct {
	PID   uint32
	Kind  [16]byte
	SubKind [16]byte
}

const recordSize = 4 + 16 + 16

// Tracer decodes ring buffer records into the same JSON object shape the
// external tracer emits on stdout, so the rest of the pipeline
// (eventstream.Parser, detect.ParseEvent) is unaware of which tracer
// produced the bytes.
type Tracer struct {
	ring *ringbuf.Reader
	objs probeObjects

	mu  sync.Mutex
	buf bytes.Buffer
}

// New attempts to load the probe and attach a ring buffer reader. It
// returns an error if the memlock rlimit cannot be removed or the probe
// objects fail to load. If the objects carry no events map, or the ring
// buffer reader cannot be opened, it returns a Tracer with no ring
// attached; Start then runs in mock mode.
func New() (*Tracer, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("devtracer: remove memlock: %w", err)
	}

	var objs probeObjects
	if err := loadProbeObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("devtracer: load probe objects: %w", err)
	}

	t := &Tracer{objs: objs}

	if objs.Events != nil {
		rd, err := ringbuf.NewReader(objs.Events)
		if err != nil {
			slog.Warn("devtracer: opening ring buffer reader failed, running in mock mode", "error", err)
			return t, nil
		}
		t.ring = rd
	}
	return t, nil
}

// Start begins decoding ring buffer records into JSON event objects,
// appended to the internal read buffer Read drains. In mock mode (no ring
// attached) it logs once and returns immediately — there is nothing to
// pump, and the session's event loop simply never receives tracer bytes
// from this source.
func (t *Tracer) Start() {
	if t.ring == nil {
		slog.Warn("devtracer: no ring buffer attached, running in mock mode")
		return
	}

	go func() {
		for {
			rec, err := t.ring.Read()
			if err != nil {
				if err == ringbuf.ErrClosed {
					return
				}
				slog.Warn("devtracer: ring buffer read error", "error", err)
				continue
			}
			t.decode(rec.RawSample)
		}
	}()
}

func (t *Tracer) decode(raw []byte) {
	if len(raw) < recordSize {
		return
	}
	pid := binary.LittleEndian.Uint32(raw[0:4])
	kind := cString(raw[4:20])
	subKind := cString(raw[20:36])

	obj := map[string]interface{}{
		"pid":   pid,
		"event": kind,
		"evt":   subKind,
	}
	payload, err := json.Marshal(obj)
	if err != nil {
		slog.Warn("devtracer: marshal event failed", "error", err)
		return
	}

	t.mu.Lock()
	t.buf.Write(payload)
	t.mu.Unlock()
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Read implements the same read-chunk signature the Session Orchestrator
// uses for the external tracer's stdout, so a Tracer can be substituted in
// directly when config.TracerConfig.Mode is "ebpf-dev".
func (t *Tracer) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf.Len() == 0 {
		return 0, nil
	}
	return t.buf.Read(p)
}

// Close releases the ring buffer reader and loaded objects.
func (t *Tracer) Close() error {
	if t.ring != nil {
		if err := t.ring.Close(); err != nil {
			return err
		}
	}
	return t.objs.Close()
}
