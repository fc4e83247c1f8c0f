// Package editor lets the user write an ad-hoc query in $EDITOR.
package editor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cw/internal/services"
)

// Header is written at the top of every scratch file and stripped again
// from the result.
const Header = "# vim: ft=lq\n"

const defaultEditor = "vi"

// Options controls how the editor is launched. Zero values fall back to
// $EDITOR, the system temp dir and the controlling terminal.
type Options struct {
	Command string
	Dir     string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// Compose opens a scratch file in the editor and returns what the user
// saved, minus the header. Whitespace-only input is rejected.
func Compose(ctx context.Context, opts Options) (string, error) {
	argv := strings.Fields(resolveCommand(opts.Command))
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("cw_query_%s.lq", uuid.NewString()))
	if err := os.WriteFile(path, []byte(Header), 0o600); err != nil {
		return "", services.Wrap(services.ErrStore, "editor", "compose", "create scratch file", err)
	}
	defer func() { _ = os.Remove(path) }()

	stdin, stdout, stderr, closeTTY := terminalIO(opts)
	defer closeTTY()

	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], path)...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrValidation, "editor", "compose", fmt.Sprintf("editor %q failed", argv[0]), err)
	}

	// The editor may have replaced the file, so read it back by name.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrStore, "editor", "compose", "read scratch file", err)
	}
	text := strings.TrimPrefix(string(data), Header)
	if strings.TrimSpace(text) == "" {
		return "", services.Wrap(services.ErrValidation, "editor", "compose", "query is empty", nil)
	}
	return text, nil
}

func resolveCommand(command string) string {
	if strings.TrimSpace(command) != "" {
		return command
	}
	if env := strings.TrimSpace(os.Getenv("EDITOR")); env != "" {
		return env
	}
	return defaultEditor
}

// terminalIO prefers explicit streams, then /dev/tty so the editor keeps a
// terminal even when stdout is piped, then the process streams.
func terminalIO(opts Options) (io.Reader, io.Writer, io.Writer, func()) {
	if opts.Stdin != nil || opts.Stdout != nil || opts.Stderr != nil {
		return opts.Stdin, opts.Stdout, opts.Stderr, func() {}
	}
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return os.Stdin, os.Stdout, os.Stderr, func() {}
	}
	return tty, tty, tty, func() { _ = tty.Close() }
}
