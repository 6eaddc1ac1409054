package devpod

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// EventType tells stdout log lines from stderr error lines.
type EventType string

const (
	EventData  EventType = "data"
	EventError EventType = "error"
)

// Event is one JSON log line emitted by a lifecycle command.
type Event struct {
	Type EventType       `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Sink receives the log stream of a lifecycle command. It is called from
// the goroutines reading the process output and must be safe for
// concurrent use.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type discard struct{}

func (discard) Emit(Event) {}

const maxLineBytes = 1 << 20

// stream runs a lifecycle command and forwards its JSON output to sink. A
// stdout object with "done":"true" ends the stream successfully even if the
// process keeps running. From then on the process belongs to the client:
// ctx no longer interrupts it, Close does.
func (c *Client) stream(ctx context.Context, args []string, sink Sink) error {
	if sink == nil {
		sink = discard{}
	}
	if !c.track() {
		return fmt.Errorf("devpod %s: %w", args[0], ErrClosed)
	}
	defer c.procs.Done()

	procCtx, release := context.WithCancel(c.life)
	unfollow := context.AfterFunc(ctx, release)
	detached := false
	defer func() {
		if !detached {
			unfollow()
			release()
		}
	}()

	cmd := c.command(procCtx, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	c.logger.Debug("streaming command", "args", args)
	if err := cmd.Start(); err != nil {
		return c.wrapRunError(procCtx, args, err, "")
	}

	var (
		wg     sync.WaitGroup
		stderr bytes.Buffer
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, func(line []byte) {
			if json.Valid(line) {
				sink.Emit(Event{Type: EventError, At: time.Now().UTC(), Data: bytes.Clone(line)})
			}
			if stderr.Len() < maxStderrBytes {
				stderr.Write(line)
				stderr.WriteByte('\n')
			}
		})
	}()

	done := scanLines(stdout, func(line []byte) {
		if !json.Valid(line) {
			c.logger.Debug("ignoring non-JSON stdout line", "line", string(line))
			return
		}
		sink.Emit(Event{Type: EventData, At: time.Now().UTC(), Data: bytes.Clone(line)})
	})
	if done && unfollow() {
		detached = true
		c.detach(cmd, stdout, &wg, release, args)
		return nil
	}

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		return c.wrapRunError(procCtx, args, err, stderr.String())
	}
	return nil
}

// detach leaves a process that reported done running until it exits on its
// own or the client closes.
func (c *Client) detach(cmd *exec.Cmd, stdout io.Reader, wg *sync.WaitGroup, release context.CancelFunc, args []string) {
	c.procs.Add(1)
	go func() {
		defer c.procs.Done()
		defer release()
		_, _ = io.Copy(io.Discard, stdout)
		wg.Wait()
		err := cmd.Wait()
		c.logger.Debug("detached command exited", "args", args, "error", err)
	}()
}

// scanLines feeds each non-empty line of r to fn until EOF or a done marker,
// and reports whether it stopped at a done marker.
func scanLines(r io.Reader, fn func([]byte)) bool {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if isDone(line) {
			return true
		}
		fn(line)
	}
	// Keep the writer unblocked after an oversized line.
	_, _ = io.Copy(io.Discard, r)
	return false
}

func isDone(line []byte) bool {
	if !bytes.Contains(line, []byte(`"done"`)) {
		return false
	}
	var msg struct {
		Done any `json:"done"`
	}
	if json.Unmarshal(line, &msg) != nil {
		return false
	}
	switch v := msg.Done.(type) {
	case string:
		return strings.EqualFold(v, "true")
	case bool:
		return v
	}
	return false
}
