package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/txwire/internal/worker"
	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/websocket"
)

const defaultWidth = 80

// Printer writes themed output. Styling is applied only when color is on.
type Printer struct {
	w     io.Writer
	color bool
	width int
}

// NewPrinter returns a printer for w. Color and width follow the terminal
// when w is one.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w, width: defaultWidth}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.color = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	return p
}

// NewPlainPrinter returns a printer that never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, width: defaultWidth}
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) field(label string, value any) {
	p.line("  %s %s", p.render(LabelStyle, fmt.Sprintf("%-14s", label)), p.render(ValueStyle, fmt.Sprint(value)))
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	p.line("%s", p.render(TitleStyle, text))
}

// Info prints a dim note.
func (p *Printer) Info(format string, args ...any) {
	p.line("%s", p.render(DimStyle, fmt.Sprintf(format, args...)))
}

// Errorf prints an error line.
func (p *Printer) Errorf(format string, args ...any) {
	p.line("%s %s", p.render(ErrorStyle, CrossMark), fmt.Sprintf(format, args...))
}

// Transaction prints the result of a client transaction. With verbose set the
// request and response headers are shown too.
func (p *Printer) Transaction(tx *transaction.Transaction, elapsed time.Duration, verbose bool) {
	req, res := tx.Req(), tx.Res()
	if verbose {
		p.line("%s %s %s", p.render(HighlightStyle, ArrowRight), req.Method, req.URL)
		p.headers(req.Header)
	}

	if err := tx.Error(); err != nil && err.Code == 0 {
		p.Errorf("%s (%s)", err.Message, elapsed.Round(time.Millisecond))
		return
	}

	status := fmt.Sprintf("%s %d %s", res.Proto, res.StatusCode, res.StatusMessage())
	style := SuccessStyle
	switch {
	case res.StatusCode >= 500:
		style = ErrorStyle
	case res.StatusCode >= 400:
		style = WarningStyle
	}
	p.line("%s %s %s", p.render(HighlightStyle, ArrowLeft), p.render(style, status), p.render(DimStyle, elapsed.Round(time.Millisecond).String()))
	if verbose {
		p.headers(res.Header)
		p.field("connection", tx.Connection())
		p.field("outcome", tx.Outcome())
	}
	if body := res.Body().Bytes(); len(body) > 0 {
		p.w.Write(body)
		if body[len(body)-1] != '\n' {
			p.line("")
		}
	}
}

func (p *Printer) headers(h map[string][]string) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p.line("  %s %s", p.render(LabelStyle, name+":"), strings.Join(h[name], ", "))
	}
}

// Message prints one received WebSocket message.
func (p *Printer) Message(m websocket.Message) {
	if m.Op == websocket.OpText {
		p.line("%s %s", p.render(HighlightStyle, ArrowLeft), m.Text())
		return
	}
	p.line("%s %s (%d bytes)", p.render(HighlightStyle, ArrowLeft), m.Op, len(m.Data))
}

// Closed prints how a WebSocket session ended.
func (p *Printer) Closed(code int, err *protocol.Error) {
	if err != nil {
		p.Errorf("closed %d: %s", code, err.Message)
		return
	}
	p.line("%s closed %d", p.render(SuccessStyle, CheckMark), code)
}

// Summary prints a benchmark summary.
func (p *Printer) Summary(sum worker.Summary) {
	var b strings.Builder
	row := func(label string, value any) {
		fmt.Fprintf(&b, "%s %s\n", p.render(LabelStyle, fmt.Sprintf("%-14s", label)), p.render(ValueStyle, fmt.Sprint(value)))
	}

	row("transactions", sum.Total)
	row("elapsed", sum.Elapsed.Round(time.Millisecond))
	row("throughput", fmt.Sprintf("%.1f tx/s", sum.Throughput()))
	b.WriteString("\n")
	row("min", sum.Min)
	row("mean", sum.Mean.Round(time.Microsecond))
	row("p50", sum.P50)
	row("p90", sum.P90)
	row("p99", sum.P99)
	row("max", sum.Max)

	if sum.Total > 0 {
		b.WriteString("\n")
		outcomes := make([]string, 0, len(sum.Outcomes))
		for o := range sum.Outcomes {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		barWidth := max(min(p.width-40, 30), 10)
		for _, o := range outcomes {
			n := sum.Outcomes[o]
			style := SuccessStyle
			if o != string(transaction.OutcomeSuccess) {
				style = ErrorStyle
			}
			fmt.Fprintf(&b, "%s %s %d\n",
				p.render(LabelStyle, fmt.Sprintf("%-18s", o)),
				p.render(style, Bar(float64(n)/float64(sum.Total), barWidth)),
				n)
		}
		for _, code := range sum.StatusCodes() {
			row(fmt.Sprintf("status %d", code), sum.Statuses[code])
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if p.color {
		out = BorderStyle.Render(out)
	}
	p.line("%s", p.render(SubtitleStyle, "Benchmark results"))
	p.line("%s", out)
}
