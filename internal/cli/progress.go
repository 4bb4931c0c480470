package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/reanchor/internal/client"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobUpdateMsg carries one state change from the websocket feed.
type jobUpdateMsg struct {
	job client.Job
}

// feedDoneMsg signals the feed closed; err is nil when the job reached
// a terminal status and the server closed normally.
type feedDoneMsg struct {
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	job      *client.Job
	updates  <-chan tea.Msg
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(job *client.Job, updates <-chan tea.Msg) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		jobID:    job.ID,
		job:      job,
		updates:  updates,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start reading the feed).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.updates),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case jobUpdateMsg:
		job := msg.job
		m.job = &job
		return m, waitForUpdate(m.updates)

	case feedDoneMsg:
		m.done = true
		if msg.err != nil {
			m.err = msg.err
		} else if m.job != nil && m.job.Status == "failed" {
			if m.job.LastError != nil {
				m.err = fmt.Errorf("%s", *m.job.LastError)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
		}
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	progressBar := m.progress.ViewAs(m.job.Progress.Percent / 100)

	stage := m.job.Progress.Stage
	if m.job.Progress.Detail != "" {
		stage += " " + m.job.Progress.Detail
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, stage, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'reanchor jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil && m.job.Status == "cancelled" {
		return m.theme.hintStyle().Render(fmt.Sprintf("\nJob %s cancelled.\n", m.jobID))
	}

	// Success with results
	if m.job != nil && len(m.job.Output) > 0 {
		output := m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		keys := make([]string, 0, len(m.job.Output))
		for k := range m.job.Output {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			output += fmt.Sprintf("  %-22s %v\n", k+":", m.job.Output[k])
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// waitForUpdate blocks on the feed channel until the next state change.
func waitForUpdate(updates <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-updates
		if !ok {
			return feedDoneMsg{}
		}
		return msg
	}
}

// RunJobProgress runs the interactive progress UI for a job, fed by the
// worker's websocket stream. Returns nil on success or Ctrl+C
// (background), error on job failure.
func RunJobProgress(ctx context.Context, c *client.Client, job *client.Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan tea.Msg)
	go func() {
		defer close(updates)
		err := c.WatchJob(ctx, job.ID, func(j client.Job) error {
			select {
			case updates <- jobUpdateMsg{job: j}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			select {
			case updates <- feedDoneMsg{err: err}:
			case <-time.After(time.Second):
			}
		}
	}()

	model := newProgressModel(job, updates)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, job continues in background - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
