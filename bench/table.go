package bench

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	reportColor = lipgloss.Color("12") // bright blue

	borderStyle  = lipgloss.NewStyle().Foreground(reportColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(reportColor).Padding(0, 1)
	methodStyle  = lipgloss.NewStyle().Padding(0, 1)
	numberStyle  = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	summaryStyle = lipgloss.NewStyle().Bold(true).Foreground(reportColor)
)

// WriteTable renders the performance comparison table followed by the
// std-versus-buddy speedup and memory reduction for each parameter set.
func WriteTable(w io.Writer, results []Result) error {
	pr := message.NewPrinter(language.English)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return methodStyle
			default:
				return numberStyle
			}
		}).
		Headers("Method", "Angle", "Scale", "Source", "Iters",
			"Processing (ms)", "RSS delta (KB)", "Alloc (ns)", "Checksum")

	for _, res := range results {
		t = t.Row(
			string(res.Method),
			fmt.Sprintf("%d", res.Angle),
			fmt.Sprintf("%.2f", res.Scale),
			fmt.Sprintf("%dx%d", res.Width, res.Height),
			fmt.Sprintf("%d", res.Iterations),
			fmt.Sprintf("%.2f", float64(res.Processing.Microseconds())/1000),
			pr.Sprintf("%d", res.MaxRSSDeltaKB),
			pr.Sprintf("%d", res.AllocSetup.Nanoseconds()),
			fmt.Sprintf("%016x", res.Checksum),
		)
	}
	if _, err := fmt.Fprintln(w, t); err != nil {
		return err
	}

	for _, line := range summaryLines(results) {
		if _, err := fmt.Fprintln(w, summaryStyle.Render(line)); err != nil {
			return err
		}
	}
	return nil
}

// summaryLines compares std against buddy per parameter set, in first
// appearance order.
func summaryLines(results []Result) []string {
	type key struct {
		angle int
		scale float64
	}
	byKey := make(map[key]map[Method]Result)
	var order []key
	for _, res := range results {
		k := key{res.Angle, res.Scale}
		if byKey[k] == nil {
			byKey[k] = make(map[Method]Result)
			order = append(order, k)
		}
		byKey[k][res.Method] = res
	}

	var lines []string
	for _, k := range order {
		std, okStd := byKey[k][MethodStd]
		bd, okBuddy := byKey[k][MethodBuddy]
		if !okStd || !okBuddy || bd.Processing <= 0 {
			continue
		}
		line := fmt.Sprintf("angle %d scale %.2f: buddy speedup %.2fx",
			k.angle, k.scale, float64(std.Processing)/float64(bd.Processing))
		if std.MaxRSSDeltaKB > 0 {
			reduction := float64(std.MaxRSSDeltaKB-bd.MaxRSSDeltaKB) /
				float64(std.MaxRSSDeltaKB) * 100
			line += fmt.Sprintf(", memory reduction %.2f%%", reduction)
		}
		lines = append(lines, line)
	}
	return lines
}
