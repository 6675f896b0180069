package cmd

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var topMetricsAddr string

// topCmd is a live terminal dashboard over the bridge's own /metrics
// endpoint — no component elsewhere in the corpus gives bubbletea and
// lipgloss a job in a serving bridge, so this is where we put them: a
// queue-depth/KV-bytes/cache-hit-rate view an operator can leave open
// next to a running `serve`.
var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live view of queue depth, KV residency, and cache hit rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newTopModel(topMetricsAddr))
		_, err := p.Run()
		return err
	},
}

func init() {
	topCmd.Flags().StringVar(&topMetricsAddr, "metrics-addr", "http://localhost:9300/metrics", "Bridge /metrics URL to poll")
}

var (
	topTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D9FF"))
	topLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666680"))
	topValStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	topErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

type topSample struct {
	model       string
	queueDepth  float64
	kvBytes     float64
	hits        float64
	misses      float64
	tokensTotal float64
}

type topTickMsg time.Time

type topSampleMsg struct {
	samples []topSample
	err     error
}

type topModel struct {
	addr    string
	samples []topSample
	err     error
	polls   int
}

func newTopModel(addr string) topModel {
	return topModel{addr: addr}
}

func (m topModel) Init() tea.Cmd {
	return tea.Batch(pollMetrics(m.addr), topTick())
}

func topTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return topTickMsg(t) })
}

func pollMetrics(addr string) tea.Cmd {
	return func() tea.Msg {
		samples, err := fetchTopSamples(addr)
		return topSampleMsg{samples: samples, err: err}
	}
}

func fetchTopSamples(addr string) ([]topSample, error) {
	resp, err := http.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("top: fetch %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("top: parse metrics: %w", err)
	}

	byModel := map[string]*topSample{}
	get := func(model string) *topSample {
		s, ok := byModel[model]
		if !ok {
			s = &topSample{model: model}
			byModel[model] = s
		}
		return s
	}

	for name, mf := range families {
		for _, metric := range mf.GetMetric() {
			model := "unknown"
			for _, lbl := range metric.GetLabel() {
				if lbl.GetName() == "model" {
					model = lbl.GetValue()
				}
			}
			s := get(model)
			switch name {
			case "primerl_queue_depth":
				s.queueDepth = metric.GetGauge().GetValue()
			case "primerl_kv_resident_bytes":
				s.kvBytes = metric.GetGauge().GetValue()
			case "primerl_prefix_cache_hits_total":
				s.hits = metric.GetCounter().GetValue()
			case "primerl_prefix_cache_misses_total":
				s.misses = metric.GetCounter().GetValue()
			case "primerl_tokens_total":
				s.tokensTotal += metric.GetCounter().GetValue()
			}
		}
	}

	out := make([]topSample, 0, len(byModel))
	for _, s := range byModel {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].model < out[j].model })
	return out, nil
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case topTickMsg:
		return m, tea.Batch(pollMetrics(m.addr), topTick())
	case topSampleMsg:
		m.polls++
		m.err = msg.err
		if msg.err == nil {
			m.samples = msg.samples
		}
	}
	return m, nil
}

func (m topModel) View() string {
	out := topTitleStyle.Render(fmt.Sprintf("primerl-bridge top — %s", m.addr)) + "\n\n"
	if m.err != nil {
		out += topErrStyle.Render(m.err.Error()) + "\n"
		return out
	}
	if len(m.samples) == 0 {
		out += topLabelStyle.Render("waiting for first sample...") + "\n"
		return out
	}
	for _, s := range m.samples {
		hitRate := 0.0
		if total := s.hits + s.misses; total > 0 {
			hitRate = s.hits / total
		}
		out += fmt.Sprintf("%s  %s=%s  %s=%s  %s=%s  %s=%s\n",
			topValStyle.Render(s.model),
			topLabelStyle.Render("queue"), topValStyle.Render(fmt.Sprintf("%.0f", s.queueDepth)),
			topLabelStyle.Render("kv_bytes"), topValStyle.Render(fmt.Sprintf("%.0f", s.kvBytes)),
			topLabelStyle.Render("hit_rate"), topValStyle.Render(fmt.Sprintf("%.2f", hitRate)),
			topLabelStyle.Render("tokens"), topValStyle.Render(fmt.Sprintf("%.0f", s.tokensTotal)),
		)
	}
	out += "\n" + topLabelStyle.Render("press q to quit")
	return out
}
