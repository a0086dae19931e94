package ui

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"coddy/internal/ralph"
	"coddy/internal/store"
)

// DefaultRefresh is how often the live view reloads records.
const DefaultRefresh = 2 * time.Second

// Snapshot is one read of the data directory.
type Snapshot struct {
	Issues []*store.Issue
	Worker *ralph.Status
	At     time.Time
}

// Loader reads a Snapshot.
type Loader func(ctx context.Context) (Snapshot, error)

// Lister lists every record regardless of status.
type Lister interface {
	List(ctx context.Context) ([]*store.Issue, error)
}

// NewLoader reads records from s and the worker status file from dataDir.
// A missing status file is not an error.
func NewLoader(s Lister, dataDir string, now func() time.Time) Loader {
	return func(ctx context.Context) (Snapshot, error) {
		issues, err := s.List(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		st, err := ralph.ReadStatus(dataDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, err
		}
		return Snapshot{Issues: issues, Worker: st, At: now()}, nil
	}
}

// Render renders a snapshot for one-shot output.
func Render(s Snapshot) string {
	var b strings.Builder
	b.WriteString(Styles.Title.Render("coddy"))
	b.WriteString("  ")
	b.WriteString(RenderCounts(s.Issues))
	b.WriteString("\n\n")
	b.WriteString(RenderRecords(s.Issues, s.At))
	b.WriteString("\n\n")
	b.WriteString(RenderWorkerStatus(s.Worker, s.At))
	b.WriteString("\n")
	return b.String()
}

// snapshotMsg carries the result of a load.
type snapshotMsg struct {
	snapshot Snapshot
	err      error
}

// refreshMsg triggers a reload.
type refreshMsg time.Time

// Model is the live `coddy status --watch` view.
type Model struct {
	load     Loader
	refresh  time.Duration
	spinner  spinner.Model
	snapshot Snapshot
	loaded   bool
	loading  bool
	err      error
}

// NewModel creates a live view polling load every refresh.
func NewModel(load Loader, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	return Model{load: load, refresh: refresh, spinner: s, loading: true}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadCmd())
}

func (m Model) loadCmd() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		s, err := load(context.Background())
		return snapshotMsg{snapshot: s, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.loading {
				m.loading = true
				return m, m.loadCmd()
			}
		}
		return m, nil

	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snapshot = msg.snapshot
			m.loaded = true
		}
		return m, m.tickCmd()

	case refreshMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.loadCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	if m.loaded {
		b.WriteString(Render(m.snapshot))
	} else {
		b.WriteString(m.spinner.View() + " Loading records...\n")
	}
	if m.err != nil {
		b.WriteString(Styles.Error.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	hint := "r: refresh · q: quit"
	if m.loading && m.loaded {
		hint = m.spinner.View() + " " + hint
	}
	b.WriteString(Styles.Hint.Render(hint))
	return b.String()
}
