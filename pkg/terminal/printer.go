// Package terminal presents a conversation in a terminal: styled bubbles,
// highlighted code blocks and a spinner while a reply is pending.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"

	"github.com/sipeed/picochat/pkg/exchange"
	"github.com/sipeed/picochat/pkg/render"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type Options struct {
	Color          bool
	HighlightStyle string
	BotName        string
}

// Printer writes controller events to out. It is an exchange.Observer.
type Printer struct {
	out  io.Writer
	opts Options
	mu   sync.Mutex

	userStyle lipgloss.Style
	botStyle  lipgloss.Style
	timeStyle lipgloss.Style
	codeStyle lipgloss.Style
	dimStyle  lipgloss.Style

	spinDone chan struct{}
	spinWG   sync.WaitGroup
}

func NewPrinter(out io.Writer, opts Options) *Printer {
	if opts.BotName == "" {
		opts.BotName = "Bot"
	}
	if opts.HighlightStyle == "" {
		opts.HighlightStyle = "monokai"
	}
	plain := lipgloss.NewStyle()
	p := &Printer{
		out:       out,
		opts:      opts,
		userStyle: plain,
		botStyle:  plain,
		timeStyle: plain,
		codeStyle: plain,
		dimStyle:  plain,
	}
	if opts.Color {
		p.userStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A855F7"))
		p.botStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4B0082"))
		p.timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
		p.codeStyle = lipgloss.NewStyle().PaddingLeft(2)
		p.dimStyle = lipgloss.NewStyle().Faint(true)
	}
	return p
}

func (p *Printer) OnEvent(e exchange.Event) {
	switch e.Type {
	case exchange.EventMessageAppended:
		p.PrintMessage(e.Message)
	case exchange.EventTypingStarted:
		p.startSpinner()
	case exchange.EventTypingStopped:
		p.stopSpinner()
	case exchange.EventCleared:
		p.mu.Lock()
		if p.opts.Color {
			fmt.Fprint(p.out, "\033[H\033[2J")
		} else {
			fmt.Fprintln(p.out, "--- conversation cleared ---")
		}
		p.mu.Unlock()
	}
}

// PrintMessage writes one bubble: a header line, then every segment.
func (p *Printer) PrintMessage(m *exchange.Message) {
	if m == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	name, style := "You", p.userStyle
	if m.Role == exchange.RoleBot {
		name, style = p.opts.BotName, p.botStyle
	}
	fmt.Fprintf(p.out, "%s %s\n", style.Render(name), p.timeStyle.Render(m.TimeLabel()))
	for _, seg := range m.Segments {
		fmt.Fprintln(p.out, p.segment(seg))
	}
	fmt.Fprintln(p.out)
}

func (p *Printer) segment(s render.Segment) string {
	if s.Kind == render.KindProse {
		return s.Text()
	}
	if !p.opts.Color {
		return indent(s.Content, "    ")
	}
	var b strings.Builder
	lang := s.Language
	if lang == "" {
		lang = "plaintext"
	}
	if err := quick.Highlight(&b, s.Content, lang, "terminal256", p.opts.HighlightStyle); err != nil {
		return p.codeStyle.Render(s.Content)
	}
	return p.codeStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (p *Printer) startSpinner() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opts.Color || p.spinDone != nil {
		return
	}
	done := make(chan struct{})
	p.spinDone = done
	p.spinWG.Add(1)
	go func() {
		defer p.spinWG.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			p.mu.Lock()
			fmt.Fprintf(p.out, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], p.dimStyle.Render(p.opts.BotName+" is typing..."))
			p.mu.Unlock()
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (p *Printer) stopSpinner() {
	p.mu.Lock()
	done := p.spinDone
	p.spinDone = nil
	p.mu.Unlock()
	if done == nil {
		return
	}
	close(done)
	p.spinWG.Wait()

	p.mu.Lock()
	fmt.Fprint(p.out, "\r\033[K")
	p.mu.Unlock()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
