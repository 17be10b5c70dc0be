// Package terminal draws creation loops on a terminal, for one-shot runs
// from the command line. Finished artifacts are saved to a directory.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/eden"
)

const channelID = "terminal"

var _ creation.Renderer = (*Renderer)(nil)

// Renderer writes loop progress to out. On a terminal the working message
// is redrawn in place; otherwise each change is printed on its own line.
type Renderer struct {
	out    io.Writer
	dir    string
	inline bool
	width  int

	mu       sync.Mutex
	next     int
	last     string
	previews map[string]string // working message ID to the last preview path
	saved    []string
}

// Opts configures a Renderer.
type Opts struct {
	Out       io.Writer // defaults to os.Stdout
	OutputDir string    // where artifacts are written, defaults to "."
}

// New creates a Renderer. Inline redraws are used when Out is a terminal.
func New(opts Opts) *Renderer {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	r := &Renderer{out: out, dir: dir, previews: make(map[string]string)}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.inline = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			r.width = w
		}
	}
	return r
}

// Saved returns the paths of every artifact written by Finalize.
func (r *Renderer) Saved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved...)
}

// Open prints the header.
func (r *Renderer) Open(_ context.Context, _ creation.Target, content string) (creation.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.last = ""
	r.draw(content)
	return creation.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(r.next)}, nil
}

// Update redraws the working message. Previews are written next to the
// final artifact under a preview- prefix.
func (r *Renderer) Update(_ context.Context, ref creation.MessageRef, content string, file *eden.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file != nil {
		path, err := r.write("preview-"+file.Name, file.Data)
		if err != nil {
			return fmt.Errorf("terminal: update: %w", err)
		}
		if old := r.previews[ref.MessageID]; old != "" && old != path {
			os.Remove(old)
		}
		r.previews[ref.MessageID] = path
	}
	r.draw(content)
	return nil
}

// Finalize saves the artifact and prints where it went.
func (r *Renderer) Finalize(_ context.Context, msg creation.FinalMessage) (creation.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	r.next++
	ref := creation.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(r.next)}
	if msg.File == nil {
		fmt.Fprintln(r.out, oneLine(msg.Content))
		return ref, nil
	}
	path, err := r.write(msg.File.Name, msg.File.Data)
	if err != nil {
		return creation.MessageRef{}, fmt.Errorf("terminal: finalize: %w", err)
	}
	r.saved = append(r.saved, path)
	fmt.Fprintf(r.out, "%s\nsaved %s\n", oneLine(msg.Content), path)
	return ref, nil
}

// Delete removes the working message's preview file.
func (r *Renderer) Delete(_ context.Context, ref creation.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path := r.previews[ref.MessageID]; path != "" {
		os.Remove(path)
		delete(r.previews, ref.MessageID)
	}
	return nil
}

// DisableControls is a no-op: the terminal has no controls.
func (r *Renderer) DisableControls(context.Context, creation.MessageRef) error { return nil }

// Apologize prints text on its own line.
func (r *Renderer) Apologize(_ context.Context, _ creation.Target, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintln(r.out, oneLine(text))
	return nil
}

// draw shows content as the working line. Caller holds r.mu.
func (r *Renderer) draw(content string) {
	line := oneLine(content)
	if line == r.last {
		return
	}
	r.last = line
	if !r.inline {
		fmt.Fprintln(r.out, line)
		return
	}
	if r.width > 1 && len(line) >= r.width {
		line = line[:r.width-1]
	}
	fmt.Fprintf(r.out, "\r\033[K%s", line)
}

// endLine moves past an inline working line. Caller holds r.mu.
func (r *Renderer) endLine() {
	if r.inline && r.last != "" {
		fmt.Fprintln(r.out)
	}
	r.last = ""
}

func (r *Renderer) write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// oneLine joins content's lines and drops the chat bold markup.
func oneLine(content string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(content), " "), "**", "")
}
