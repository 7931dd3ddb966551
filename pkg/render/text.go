// ABOUTME: Terminal visualizer backends styled with lipgloss
// ABOUTME: Block-element spectrum bars and a character oscilloscope
package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Unicode block elements for partial cell heights, including empty
var barBlocks = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

var (
	specLowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	specMidStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	specHighStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	scopeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	axisStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func textFor(s Surface) (*TextSurface, error) {
	t, ok := s.(*TextSurface)
	if !ok {
		return nil, ErrIncompatibleSurface
	}
	return t, nil
}

// levelStyle colors a row by how high up the bar it is
func levelStyle(level float64) lipgloss.Style {
	switch {
	case level > 0.75:
		return specHighStyle
	case level > 0.45:
		return specMidStyle
	default:
		return specLowStyle
	}
}

// resample averages bins down (or repeats them up) to n columns
func resample(bins []float64, n int) []float64 {
	out := make([]float64, n)
	if len(bins) == 0 || n == 0 {
		return out
	}
	for i := range out {
		lo := i * len(bins) / n
		hi := (i + 1) * len(bins) / n
		if hi <= lo {
			out[i] = bins[min(lo, len(bins)-1)]
			continue
		}
		var sum float64
		for _, v := range bins[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// spectrum renders frequency bins as multi-row block bars
type spectrum struct {
	surface *TextSurface
	smooth  smoother
}

func newSpectrum(s Surface) (Backend, error) {
	t, err := textFor(s)
	if err != nil {
		return nil, err
	}
	return &spectrum{surface: t}, nil
}

func (sp *spectrum) Render(in Input) error {
	cols, rows := sp.surface.Size()

	var bins []float64
	if in.Frame != nil {
		bins = in.Frame.Bins
	}
	levels := sp.smooth.apply(resample(bins, cols))

	steps := len(barBlocks) - 1
	lines := make([]string, rows)
	for r := 0; r < rows; r++ {
		// Row 0 is the top of the display
		fromBottom := rows - 1 - r
		style := levelStyle(float64(fromBottom+1) / float64(rows))

		var sb strings.Builder
		for _, level := range levels {
			filled := level*float64(rows*steps) - float64(fromBottom*steps)
			idx := max(0, min(steps, int(filled)))
			sb.WriteString(barBlocks[idx])
		}
		lines[r] = style.Render(sb.String())
	}

	sp.surface.SetLines(lines)
	return nil
}

func (sp *spectrum) Release() {
	sp.smooth.reset()
	sp.surface = nil
}

// scope renders the waveform as a character oscilloscope
type scope struct {
	surface *TextSurface
	grid    [][]rune
}

func newScope(s Surface) (Backend, error) {
	t, err := textFor(s)
	if err != nil {
		return nil, err
	}
	return &scope{surface: t}, nil
}

func (sc *scope) Render(in Input) error {
	cols, rows := sc.surface.Size()
	sc.reset(cols, rows)

	mid := rows / 2
	for c := 0; c < cols; c++ {
		sc.grid[mid][c] = '─'
	}

	if in.Frame != nil && len(in.Frame.Waveform) > 0 {
		samples := resampleWave(in.Frame.Waveform, cols)
		for c, v := range samples {
			// v in [-1, 1]; +1 is the top row
			r := int((1 - v) / 2 * float64(rows-1))
			r = max(0, min(rows-1, r))
			sc.grid[r][c] = '•'
		}
	}

	lines := make([]string, rows)
	for r, row := range sc.grid {
		style := scopeStyle
		if r == mid && !strings.ContainsRune(string(row), '•') {
			style = axisStyle
		}
		lines[r] = style.Render(string(row))
	}

	sc.surface.SetLines(lines)
	return nil
}

// reset sizes and blanks the grid, reusing rows when the size is unchanged
func (sc *scope) reset(cols, rows int) {
	if len(sc.grid) != rows || (rows > 0 && len(sc.grid[0]) != cols) {
		sc.grid = make([][]rune, rows)
		for r := range sc.grid {
			sc.grid[r] = make([]rune, cols)
		}
	}
	for _, row := range sc.grid {
		for c := range row {
			row[c] = ' '
		}
	}
}

func (sc *scope) Release() {
	sc.grid = nil
	sc.surface = nil
}

// resampleWave picks evenly spaced samples, keeping sign
func resampleWave(samples []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = samples[i*len(samples)/n]
	}
	return out
}
