package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"github.com/h2non/filetype"

	"github.com/sipeed/picochat/pkg/exchange"
	"github.com/sipeed/picochat/pkg/logger"
)

// LineReader is the part of a readline instance the REPL needs.
type LineReader interface {
	ReadLine() (string, error)
}

const helpText = `Commands:
  /clear          start over
  /attach <file>  report a file as attached
  /endpoint <url> send queries to another endpoint
  /help           show this help
  /quit           leave`

// Run reads lines from in and feeds them to the controller until EOF,
// /quit, an interrupt on an empty line or cancellation of ctx. Each query
// completes before the next line is read.
func Run(ctx context.Context, ctrl *exchange.Controller, in LineReader, out io.Writer) error {
	for {
		line, err := in.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprintln(out, helpText)
		case line == "/clear":
			ctrl.Clear()
		case strings.HasPrefix(line, "/attach"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/attach"))
			if name == "" {
				fmt.Fprintln(out, "usage: /attach <file>")
				continue
			}
			describeAttachment(name)
			ctrl.AttachFile(filepath.Base(name))
		case strings.HasPrefix(line, "/endpoint"):
			endpoint := strings.TrimSpace(strings.TrimPrefix(line, "/endpoint"))
			if endpoint == "" {
				fmt.Fprintln(out, "usage: /endpoint <url>")
				continue
			}
			if ctrl.UpdateConfig(endpoint, nil) {
				fmt.Fprintf(out, "Endpoint set to %s\n", endpoint)
			} else {
				fmt.Fprintln(out, "This conversation's endpoint cannot be changed.")
			}
		default:
			if _, err := ctrl.Submit(ctx, line); err != nil {
				fmt.Fprintln(out, err)
			}
		}

		// An interrupt while a reply was pending ends the session cleanly.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Only the name is sent; the content type is logged when the file is readable.
func describeAttachment(path string) {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return
	}
	fields := map[string]interface{}{"file": filepath.Base(path), "mime": "unknown"}
	if kind != filetype.Unknown {
		fields["mime"] = kind.MIME.Value
	}
	logger.DebugCF("terminal", "Attachment inspected", fields)
}

// NewReader opens an interactive line editor with the chat prompt.
func NewReader() (*readline.Instance, error) {
	return readline.New("> ")
}
