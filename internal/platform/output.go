package platform

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// titleStyle for bold headers
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("160"))

	// dimStyle for muted labels
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// headerBoxStyle for the run header
	headerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(0, 1)

	// codeBoxStyle frames wrapped program listings
	codeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// FormatHeader renders the run header.
func FormatHeader(w io.Writer, main, root string, instances int) {
	content := fmt.Sprintf("%s %s  %s %d\n%s %s",
		dimStyle.Render("Main:"), titleStyle.Render(main),
		dimStyle.Render("Instances:"), instances,
		dimStyle.Render("Root:"), root,
	)
	fmt.Fprintln(w, headerBoxStyle.Render(content))
}

// FormatDeployed writes a deployment success line.
func FormatDeployed(w io.Writer, id, main string) {
	fmt.Fprintf(w, "%s %s %s\n", successStyle.Render("✓"), main, dimStyle.Render(id))
}

// FormatUndeployed writes an undeploy line.
func FormatUndeployed(w io.Writer, id string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s undeploy %s: %v\n", errorStyle.Render("✗"), dimStyle.Render(id), err)
		return
	}
	fmt.Fprintf(w, "%s undeployed %s\n", successStyle.Render("✓"), dimStyle.Render(id))
}

// FormatFailed writes a failure line.
func FormatFailed(w io.Writer, what string, err error) {
	fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), what, err)
}

// FormatProgram renders a wrapped program with line numbers.
func FormatProgram(w io.Writer, name, text string) {
	lines := strings.Split(text, "\n")
	width := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("%*d", width, i+1)))
		b.WriteString("  ")
		b.WriteString(line)
	}
	fmt.Fprintln(w, titleStyle.Render(name))
	fmt.Fprintln(w, codeBoxStyle.Render(b.String()))
}
