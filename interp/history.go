package interp

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// History holds the interactive command history, persisted to HISTFILE
// with an atomic rewrite (renameio) rather than a truncate-in-place.
type History struct {
	mu      sync.Mutex
	path    string
	maxSize int
	lines   []string
}

// NewHistory loads path (if it exists) up to maxSize lines, the way an
// interactive shell reads HISTFILE at startup.
func NewHistory(path string, maxSize int) *History {
	h := &History{path: path, maxSize: maxSize}
	h.load()
	return h
}

func (h *History) load() {
	if h.path == "" {
		return
	}
	f, err := os.Open(h.path)
	if err != nil {
		return
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if h.maxSize > 0 && len(lines) > h.maxSize {
		lines = lines[len(lines)-h.maxSize:]
	}
	h.lines = lines
}

// Add appends a line to in-memory history, called once per top-level
// interactive command.
func (h *History) Add(line string) {
	if line == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
	if h.maxSize > 0 && len(h.lines) > h.maxSize {
		h.lines = h.lines[len(h.lines)-h.maxSize:]
	}
}

func (h *History) List() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.lines))
	copy(out, h.lines)
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = nil
}

// Write persists the in-memory history to HISTFILE atomically, called on
// shell exit and by the "history -w" builtin.
func (h *History) Write() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.path == "" {
		return nil
	}
	data := strings.Join(h.lines, "\n")
	if len(h.lines) > 0 {
		data += "\n"
	}
	return renameio.WriteFile(h.path, []byte(data), 0600)
}

func historySizeFromEnv(e *Environment) int {
	n, err := strconv.Atoi(e.Get("HISTSIZE").String())
	if err != nil || n < 0 {
		return 500
	}
	return n
}
