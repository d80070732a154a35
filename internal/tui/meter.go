// Package tui renders the terminal meter, a demo consumer of the analysis
// results. It polls the sink boundary at the analysis cadence and never
// touches the capture path.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"viztap/internal/analysis"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3C3C3C"))
)

// Visualization mode names, mirroring config.ValidModes.
const (
	modeNone     = "none"
	modeVU       = "vu"
	modeSpectrum = "spectrum"
	modeWave     = "wave"
)

// Provider is the read side of the analysis pipeline the meter polls.
// *analysis.Analyzer satisfies it.
type Provider interface {
	Latest() *analysis.Result
	WaveExcerpt() []float32
	BandEdges() []float64
}

// MeterModel represents the Bubble Tea model for the live meter.
type MeterModel struct {
	provider Provider
	mode     string
	interval time.Duration

	width  int
	height int
	ready  bool

	latest *analysis.Result
	wave   []float32
	edges  []float64
}

// NewMeterModel creates a meter model polling the provider at the given
// interval. An interval <= 0 falls back to 100ms.
func NewMeterModel(provider Provider, mode string, interval time.Duration) MeterModel {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return MeterModel{
		provider: provider,
		mode:     mode,
		interval: interval,
		edges:    provider.BandEdges(),
	}
}

// tickMsg carries the poll timer.
type tickMsg time.Time

func (m MeterModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init initializes the Bubble Tea model.
func (m MeterModel) Init() tea.Cmd {
	return m.tick()
}

// Update handles input and poll ticks.
func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tickMsg:
		m.latest = m.provider.Latest()
		if m.mode == modeWave {
			m.wave = m.provider.WaveExcerpt()
		}
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
			return m, tea.Quit
		case key.Matches(msg, key.NewBinding(key.WithKeys("v"))):
			m.mode = modeVU
		case key.Matches(msg, key.NewBinding(key.WithKeys("s"))):
			m.mode = modeSpectrum
		case key.Matches(msg, key.NewBinding(key.WithKeys("w"))):
			m.mode = modeWave
		case key.Matches(msg, key.NewBinding(key.WithKeys("n"))):
			m.mode = modeNone
		}
	}

	return m, nil
}

// View renders the meter for the active mode.
func (m MeterModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("VizTap — " + m.mode)

	var body string
	switch m.mode {
	case modeVU:
		body = m.renderVU()
	case modeSpectrum:
		body = m.renderSpectrum()
	case modeWave:
		body = m.renderWave()
	default:
		body = infoStyle.Render("visualization off")
	}

	help := infoStyle.Render("v: VU • s: Spectrum • w: Wave • n: Off • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

// renderVU draws one horizontal bar per channel. Typical program material
// sits well below full scale, so levels are boosted 3x before clamping.
func (m MeterModel) renderVU() string {
	width := m.width - 12
	if width < 8 {
		width = 8
	}

	var sb strings.Builder
	labels := [2]string{"L", "R"}
	for ch := 0; ch < 2; ch++ {
		level := 0.0
		if m.latest != nil {
			level = clamp01(m.latest.RMS[ch] * 3)
		}
		filled := int(level * float64(width))
		sb.WriteString(fmt.Sprintf("%s %s%s %5.1f%%\n",
			labels[ch],
			barStyle.Render(strings.Repeat("█", filled)),
			dimStyle.Render(strings.Repeat("░", width-filled)),
			level*100))
	}
	return sb.String()
}

// renderSpectrum draws one column per band, tallest at full scale, with the
// band edge frequencies as an axis label.
func (m MeterModel) renderSpectrum() string {
	if m.latest == nil || len(m.latest.Bands) == 0 {
		return infoStyle.Render("waiting for audio...")
	}
	bands := m.latest.Bands

	rows := m.height - 7
	if rows < 4 {
		rows = 4
	}
	cellW, gapW := 2, 1
	if m.width > 0 && len(bands)*(cellW+gapW) > m.width {
		cellW, gapW = 1, 0
	}
	filled := strings.Repeat("█", cellW)
	empty := strings.Repeat("·", cellW)
	gap := strings.Repeat(" ", gapW)

	var sb strings.Builder
	for row := 0; row < rows; row++ {
		threshold := float64(rows-row) / float64(rows)
		for _, level := range bands {
			if level >= threshold {
				sb.WriteString(filled)
			} else {
				sb.WriteString(empty)
			}
			sb.WriteString(gap)
		}
		sb.WriteString("\n")
	}

	if len(m.edges) >= 2 {
		width := len(bands) * (cellW + gapW)
		left := formatHz(m.edges[0])
		right := formatHz(m.edges[len(m.edges)-1])
		pad := width - len(left) - len(right)
		if pad < 1 {
			pad = 1
		}
		sb.WriteString(infoStyle.Render(left + strings.Repeat(" ", pad) + right))
	}
	return sb.String()
}

// renderWave draws the newest excerpt as a symmetric envelope around a
// center line, one column per sample bucket.
func (m MeterModel) renderWave() string {
	if len(m.wave) == 0 {
		return infoStyle.Render("waiting for audio...")
	}

	cols := m.width - 4
	if cols < 16 {
		cols = 16
	}
	if cols > len(m.wave) {
		cols = len(m.wave)
	}
	rows := m.height - 7
	if rows < 5 {
		rows = 5
	}
	if rows%2 == 0 {
		rows-- // keep a center line
	}
	half := rows / 2

	bucket := len(m.wave) / cols
	peaks := make([]int, cols)
	for c := 0; c < cols; c++ {
		start := c * bucket
		end := start + bucket
		if end > len(m.wave) {
			end = len(m.wave)
		}
		peak := 0.0
		for _, s := range m.wave[start:end] {
			if a := math.Abs(float64(s)); a > peak {
				peak = a
			}
		}
		peaks[c] = int(clamp01(peak) * float64(half))
	}

	var sb strings.Builder
	for row := 0; row < rows; row++ {
		dist := row - half
		if dist < 0 {
			dist = -dist
		}
		for c := 0; c < cols; c++ {
			switch {
			case dist == 0:
				sb.WriteString("─")
			case peaks[c] >= dist:
				sb.WriteString("█")
			default:
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatHz(hz float64) string {
	if hz >= 1000 {
		return fmt.Sprintf("%.0fkHz", hz/1000)
	}
	return fmt.Sprintf("%.0fHz", hz)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// StartMeterUI runs the terminal meter until the user quits or done is
// closed. It blocks the calling goroutine.
func StartMeterUI(provider Provider, mode string, interval time.Duration, done <-chan struct{}) error {
	p := tea.NewProgram(
		NewMeterModel(provider, mode, interval),
		tea.WithAltScreen(),
	)
	if done != nil {
		go func() {
			<-done
			p.Quit()
		}()
	}
	_, err := p.Run()
	return err
}
