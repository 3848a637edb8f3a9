// File: internal/commands/commands.go
// Package commands converts recorded UI events into the line-oriented
// automation command list consumed by the reconciliation pass. One command
// per event, positionally aligned with the 1-based event index.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
)

// ExitCommand terminates the generated script; it is always the last line of
// a command file and never part of the positional step alignment.
const ExitCommand = "import sys; sys.exit(0)"

// Convert translates one event into its automation command. Wait events
// produce no command (ok=false); unknown event types produce a comment line
// so the positional alignment of later events is still visible in the file.
func Convert(e schemas.Event) (string, bool) {
	switch e.Type {
	case schemas.EventClick:
		return convertClick(e.Data), true

	case schemas.EventTyping:
		return fmt.Sprintf("pg.write(%q, interval=0.1)", e.Data.Text), true

	case schemas.EventHotkey:
		keys := make([]string, 0, len(e.Data.Keys))
		for _, k := range e.Data.Keys {
			keys = append(keys, fmt.Sprintf("%q", strings.ToLower(k)))
		}
		return fmt.Sprintf("pg.hotkey(%s)", strings.Join(keys, ", ")), true

	case schemas.EventPress:
		return fmt.Sprintf("pg.press(%q)", strings.ToLower(e.Data.Key)), true

	case schemas.EventDragFromTo:
		return fmt.Sprintf("pg.dragTo(%d, %d, duration=1, button='left')", e.Data.XEnd, e.Data.YEnd), true

	case schemas.EventScroll:
		distance := e.Data.TotalScrollDistance
		if strings.EqualFold(e.Data.ScrollDirection, "down") {
			return fmt.Sprintf("pg.scroll(-%d)", distance), true
		}
		return fmt.Sprintf("pg.scroll(%d)", distance), true

	case schemas.EventWait:
		return "", false

	default:
		return fmt.Sprintf("# Unknown event type: %s", e.Type), true
	}
}

func convertClick(d schemas.EventData) string {
	text := strings.ToLower(d.Text)

	var button string
	switch {
	case strings.Contains(text, "right"):
		button = "right"
	case strings.Contains(text, "middle"):
		button = "middle"
	}

	args := fmt.Sprintf("%d, %d", d.X, d.Y)
	if d.NumClicks == 2 {
		args += ", clicks=2"
	}
	if button != "" {
		args += fmt.Sprintf(", button='%s'", button)
	}
	return fmt.Sprintf("pg.click(%s)", args)
}

// Result aggregates a full conversion.
type Result struct {
	Commands []string
	// Stats counts events per type, including excluded wait events.
	Stats map[schemas.EventType]int
}

// ConvertAll converts an event sequence, preserving order and dropping wait
// events.
func ConvertAll(events []schemas.Event) Result {
	res := Result{Stats: map[schemas.EventType]int{}}
	for _, e := range events {
		res.Stats[e.Type]++
		if cmd, ok := Convert(e); ok {
			res.Commands = append(res.Commands, cmd)
		}
	}
	return res
}

// WriteFile writes one command per line plus the trailing exit command.
func WriteFile(path string, cmds []string) error {
	var b strings.Builder
	for _, cmd := range cmds {
		b.WriteString(cmd)
		b.WriteByte('\n')
	}
	b.WriteString(ExitCommand)
	b.WriteByte('\n')

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write command file %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a command file back into the positional list: every
// non-empty line is one command, and a trailing exit command is stripped so
// it never shifts the step alignment.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read command file %s: %w", path, err)
	}

	var cmds []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			cmds = append(cmds, trimmed)
		}
	}
	if n := len(cmds); n > 0 && cmds[n-1] == ExitCommand {
		cmds = cmds[:n-1]
	}
	return cmds, nil
}
