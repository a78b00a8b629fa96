package intake

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PipeSource implements Source by running a bridge command (for example an
// MQTT subscriber) that prints one JSON object per line.
type PipeSource struct {
	name string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// NewPipeSource creates a PipeSource for the given command.
func NewPipeSource(name string, args ...string) *PipeSource {
	return &PipeSource{name: name, args: args}
}

func (p *PipeSource) Signals(ctx context.Context) (<-chan Signal, error) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.name, p.args...)
	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting %s: %w", p.name, err)
	}

	ch := make(chan Signal, 64)

	go func() {
		defer close(ch)
		defer func() {
			_ = cmd.Wait()
		}()
		scanSignals(ctx, stdout, ch)
	}()

	slog.Info("intake bridge started", "command", p.name)
	return ch, nil
}

func (p *PipeSource) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// ReaderSource implements Source over an already-open stream, such as stdin
// or a named pipe. It is not restartable.
type ReaderSource struct {
	r    io.Reader
	once sync.Once
	stop chan struct{}
}

// NewReaderSource wraps r as a signal source.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, stop: make(chan struct{})}
}

func (s *ReaderSource) Signals(ctx context.Context) (<-chan Signal, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Signal, 64)
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer close(ch)
		defer cancel()
		scanSignals(ctx, s.r, ch)
	}()
	return ch, nil
}

func (s *ReaderSource) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func scanSignals(ctx context.Context, r io.Reader, ch chan<- Signal) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		sig, err := parseSignalJSON(line)
		if err != nil {
			slog.Debug("skipping unparseable signal line", "error", err)
			continue
		}

		select {
		case ch <- sig:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("intake scanner error", "error", err)
	}
}

// parseSignalJSON parses a single JSON line from the bridge. Recognised keys
// are device/device_tag, kind/type, flat, ts/timestamp (RFC 3339 or unix
// seconds) and message.
func parseSignalJSON(data []byte) (Signal, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Signal{}, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		case nil:
		case []interface{}:
			if len(val) > 0 {
				fields[k] = fmt.Sprintf("%v", val[0])
			}
		default:
			fields[k] = fmt.Sprintf("%v", v)
		}
	}

	sig := Signal{
		DeviceTag: first(fields, "device_tag", "device"),
		Kind:      strings.ToLower(first(fields, "kind", "type")),
		Flat:      first(fields, "flat", "flat_number"),
		Message:   first(fields, "message", "msg"),
		Fields:    fields,
	}
	if sig.DeviceTag == "" && sig.Kind == "" {
		return Signal{}, fmt.Errorf("signal has neither device nor kind")
	}
	sig.At = parseTime(first(fields, "ts", "timestamp"))
	return sig, nil
}

func first(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

// parseTime accepts RFC 3339 or unix seconds. Returns the zero time otherwise.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(secs)
		nsec := int64((secs - float64(sec)) * 1e9)
		return time.Unix(sec, nsec)
	}
	return time.Time{}
}
