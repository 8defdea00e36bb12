package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Printer writes user-facing progress. Output is styled only when out is a terminal.
type Printer struct {
	out                io.Writer
	styled             bool
	appStyle           lipgloss.Style
	warnStyle          lipgloss.Style
	commandStyle       lipgloss.Style
	commandOutputStyle lipgloss.Style
	mu                 sync.Mutex
	last               outputKind
}

type outputKind int

const (
	outputNone outputKind = iota
	outputApp
	outputCommand
)

func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = io.Discard
	}
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:                out,
		styled:             isTerminal(out),
		appStyle:           r.NewStyle().Bold(true),
		warnStyle:          r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"}),
		commandStyle:       r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "110"}),
		commandOutputStyle: r.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "238", Dark: "252"}),
		last:               outputNone,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// App writes bold application output.
func (p *Printer) App(text string) error {
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeApp(); err != nil {
		return err
	}
	if err := p.writeStyled(p.appStyle, ensureTrailingNewline(text)); err != nil {
		return err
	}
	p.last = outputApp
	return nil
}

func (p *Printer) Appf(format string, args ...any) error {
	return p.App(fmt.Sprintf(format, args...))
}

// Warnf writes a highlighted warning line.
func (p *Printer) Warnf(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeApp(); err != nil {
		return err
	}
	if err := p.writeStyled(p.warnStyle, ensureTrailingNewline(text)); err != nil {
		return err
	}
	p.last = outputApp
	return nil
}

// Plain writes text without styling. Used for tables, which must keep their alignment.
func (p *Printer) Plain(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeApp(); err != nil {
		return err
	}
	_, err := io.WriteString(p.out, ensureTrailingNewline(text))
	p.last = outputApp
	return err
}

// RunCommand prints the command invocation and then runs it. Returns the
// command's combined output.
func (p *Printer) RunCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeCommand(); err != nil {
		return nil, err
	}
	if err := p.writeStyled(p.commandStyle, ensureTrailingNewline(FormatCommand(name, args))); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, cmdErr := cmd.CombinedOutput()
	if len(output) > 0 {
		if err := p.writeStyled(p.commandOutputStyle, ensureTrailingNewline(string(output))); err != nil {
			return output, err
		}
	}
	p.last = outputCommand
	return output, cmdErr
}

// RunCommandStreaming streams stdout/stderr through the printer as it arrives,
// while capturing the combined output.
func (p *Printer) RunCommandStreaming(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeCommand(); err != nil {
		return nil, err
	}
	if err := p.writeStyled(p.commandStyle, ensureTrailingNewline(FormatCommand(name, args))); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	var buf lockedBuffer
	writer := &styledWriter{p: p, style: p.commandOutputStyle}
	copyStream := func(r io.Reader) error {
		_, err := io.Copy(writer, io.TeeReader(r, &buf))
		return err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- copyStream(stdout) }()
	go func() { errCh <- copyStream(stderr) }()

	var copyErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && copyErr == nil {
			copyErr = err
		}
	}

	waitErr := cmd.Wait()
	p.last = outputCommand

	if waitErr != nil {
		return buf.Bytes(), waitErr
	}
	return buf.Bytes(), copyErr
}

func (p *Printer) ensureGapBeforeCommand() error {
	switch p.last {
	case outputApp, outputCommand:
		_, err := io.WriteString(p.out, "\n")
		return err
	default:
		return nil
	}
}

func (p *Printer) ensureGapBeforeApp() error {
	if p.last != outputCommand {
		return nil
	}
	_, err := io.WriteString(p.out, "\n")
	return err
}

func (p *Printer) writeStyled(style lipgloss.Style, text string) error {
	if text == "" {
		return nil
	}
	_, err := io.WriteString(p.out, p.render(style, text))
	return err
}

// render styles each line on its own; lipgloss pads multi-line blocks to a
// common width otherwise.
func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

type styledWriter struct {
	p     *Printer
	style lipgloss.Style
	mu    sync.Mutex
}

func (w *styledWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.p.out, w.p.render(w.style, string(b))); err != nil {
		return 0, err
	}
	return len(b), nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func ensureTrailingNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

// FormatCommand renders a command line with shell quoting where needed.
func FormatCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, QuoteArg(name))
	for _, arg := range args {
		parts = append(parts, QuoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func QuoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$&|;<>*?[]{}()") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", "'\"'\"'") + "'"
}
