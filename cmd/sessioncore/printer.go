package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"

	"github.com/go-go-golems/sessioncore/pkg/envelope"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	kindStyles  = map[transcript.Kind]lipgloss.Style{
		transcript.KindUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		transcript.KindAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		transcript.KindError:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		transcript.KindSystem:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	}
)

// transcriptPrinter writes transcripts for humans. Styling and markdown
// rendering only apply when the output is a terminal.
type transcriptPrinter struct {
	w        io.Writer
	styled   bool
	markdown bool
	codec    tokenizer.Codec
}

func newTranscriptPrinter(w io.Writer, markdown, tokens bool) (*transcriptPrinter, error) {
	p := &transcriptPrinter{w: w, styled: isTerminal(w)}
	p.markdown = markdown && p.styled
	if tokens {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, errors.Wrap(err, "load tokenizer")
		}
		p.codec = codec
	}
	return p, nil
}

func (p *transcriptPrinter) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *transcriptPrinter) header(title string, fields [][2]string) {
	fmt.Fprintln(p.w, p.style(headerStyle, title))
	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(p.w, "  %s %s\n", p.style(mutedStyle, kv[0]+":"), kv[1])
	}
	fmt.Fprintln(p.w)
}

func (p *transcriptPrinter) messages(msgs []transcript.Message) error {
	total := 0
	for _, m := range msgs {
		label := strings.ToUpper(string(m.Kind))
		if p.codec != nil {
			n, err := p.countTokens(m.Text)
			if err != nil {
				return err
			}
			total += n
			label = fmt.Sprintf("%s (%d tokens)", label, n)
		}
		fmt.Fprintln(p.w, p.style(kindStyles[m.Kind], label))

		text := m.Text
		if p.markdown && m.Kind == transcript.KindAssistant && text != "" {
			rendered, err := glamour.Render(text, "dark")
			if err == nil {
				text = strings.TrimRight(rendered, "\n")
			}
		}
		if text != "" {
			fmt.Fprintln(p.w, text)
		}
		for _, line := range blockSummaries(m.Envelope) {
			fmt.Fprintln(p.w, p.style(mutedStyle, line))
		}
		fmt.Fprintln(p.w)
	}
	if p.codec != nil {
		fmt.Fprintf(p.w, "Total tokens: %d\n", total)
	}
	return nil
}

func (p *transcriptPrinter) countTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids, _, err := p.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "count tokens")
	}
	return len(ids), nil
}

// blockSummaries describes the non-text blocks of a structured message.
func blockSummaries(env envelope.Envelope) []string {
	var out []string
	for _, raw := range env.Content() {
		b, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch t, _ := b["type"].(string); t {
		case "tool_use":
			name, _ := b["name"].(string)
			id, _ := b["id"].(string)
			out = append(out, fmt.Sprintf("  -> tool_use %s [%s]", name, id))
		case "tool_result":
			id, _ := b["tool_use_id"].(string)
			out = append(out, fmt.Sprintf("  <- tool_result [%s]", id))
		case "thinking":
			text, _ := b["thinking"].(string)
			out = append(out, fmt.Sprintf("  .. thinking (%d chars)", len(text)))
		}
	}
	return out
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
