package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/hamdam-go/internal/langdetect"
)

var (
	boldStyle    = lipgloss.NewStyle().Bold(true)
	modelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	botPanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
	userPanel = botPanel.Copy().BorderForeground(lipgloss.Color("2"))
)

type prefixes struct {
	system, errorP, success, warning, bot, you string
}

var prefixByLang = map[langdetect.Language]prefixes{
	langdetect.Fa: {"⚙️ سیستم: ", "❌ خطا: ", "✅ موفقیت: ", "⚠️ هشدار: ", "[🤖 بات]: ", "[👤 شما]: "},
	langdetect.En: {"⚙️ System: ", "❌ Error: ", "✅ Success: ", "⚠️ Warning: ", "[🤖 Bot]: ", "[👤 You]: "},
}

func prefixFor(lang langdetect.Language) prefixes {
	if lang == langdetect.Fa {
		return prefixByLang[langdetect.Fa]
	}
	return prefixByLang[langdetect.En]
}

// Printer writes formatted chat output to w.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

func (p *Printer) println(s string) { _, _ = fmt.Fprintln(p.w, s) }

// System prints an informational line.
func (p *Printer) System(lang langdetect.Language, msg string) {
	p.println(prefixFor(lang).system + msg)
}

// Error prints an error line.
func (p *Printer) Error(lang langdetect.Language, msg string) {
	p.println(prefixFor(lang).errorP + msg)
}

// Success prints a confirmation line.
func (p *Printer) Success(lang langdetect.Language, msg string) {
	p.println(prefixFor(lang).success + msg)
}

// Warning prints a warning line.
func (p *Printer) Warning(lang langdetect.Language, msg string) {
	p.println(prefixFor(lang).warning + msg)
}

// Answer prints the model's reply in a panel.
func (p *Printer) Answer(lang langdetect.Language, answer string) {
	p.println(botPanel.Render(boldStyle.Render(prefixFor(lang).bot) + answer))
}

// Question echoes the user's message in a panel.
func (p *Printer) Question(lang langdetect.Language, msg string) {
	p.println(userPanel.Render(boldStyle.Render(prefixFor(lang).you) + msg))
}

// ModelHeader prints the active model line.
func (p *Printer) ModelHeader(lang langdetect.Language, model string) {
	p.println(Text(lang, KeyActiveModel) + ": " + modelStyle.Render(model))
}

// Section prints a bold section title preceded by a blank line.
func (p *Printer) Section(lang langdetect.Language, key Key) {
	p.println("\n" + sectionStyle.Render(Text(lang, key)))
}

// Commands prints the REPL command list.
func (p *Printer) Commands(lang langdetect.Language) {
	for _, c := range Commands {
		name := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(c.Color)).Render(c.Name)
		p.println(c.Emoji + " " + name + " - " + c.Description(lang))
	}
}

// Models prints a numbered model list, marking the active one.
func (p *Printer) Models(names []string, active string) {
	for i, n := range names {
		line := modelStyle.Render(fmt.Sprintf("%d.", i+1)) + " " + n
		if n == active {
			line += " ✅"
		}
		p.println(line)
	}
}

// SwitchSuccess confirms a model switch.
func (p *Printer) SwitchSuccess(lang langdetect.Language, model string) {
	p.println(successStyle.Render("✨ " + Text(lang, KeySwitchSuccess) + " " + modelStyle.Render(model) + " ✨"))
}

// Welcome prints the greeting, active model, and command list.
func (p *Printer) Welcome(lang langdetect.Language, model string) {
	p.System(lang, Text(lang, KeyWelcome))
	p.ModelHeader(lang, model)
	p.Section(lang, KeyCommands)
	p.Commands(lang)
}

// Prompt returns the input prompt for the REPL.
func Prompt(lang langdetect.Language, model string) string {
	return "\n" + strings.TrimSpace(fmt.Sprintf(Text(lang, KeyAsk), model)) + " "
}
