package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/bulkgen/internal/client"
	"github.com/raphaelgruber/bulkgen/internal/models"
	"github.com/raphaelgruber/bulkgen/internal/service"
)

var watchWS bool

var watchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Follow a server-side job's progress live",
	Long: `Follow a job's progress with a live display. Without a job ID, the
server is asked for your most recent still-running job, so a batch
started in an earlier session can be picked back up:

  bulkgen watch abc12345        # follow a specific job
  bulkgen watch --user alice    # reattach to your active job
  bulkgen watch abc12345 --ws   # push feed instead of polling`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		c := apiClient()

		jobID := ""
		if len(args) == 1 {
			jobID = args[0]
		}

		if err := watchOrResume(ctx, c, jobID); err != nil {
			exitWithError("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchWS, "ws", false, "subscribe to the server's websocket feed instead of polling")
	rootCmd.AddCommand(watchCmd)
}

func watchOrResume(ctx context.Context, c *client.Client, jobID string) error {
	if jobID != "" {
		return watchJob(ctx, c, jobID)
	}

	if err := requireUser(); err != nil {
		return err
	}
	jobs, err := c.ListActiveJobs(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up active jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No active jobs to watch")
		return nil
	}
	return watchJob(ctx, c, jobs[0].ID)
}

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

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

// pollUpdateMsg carries a fresh snapshot from the poller.
type pollUpdateMsg struct {
	job   *models.Job
	stats models.Stats
}

// pollDoneMsg signals that the poll session ended, verification included.
type pollDoneMsg struct{}

// watchModel is the bubbletea model for live job progress.
type watchModel struct {
	jobID    string
	job      *models.Job
	stats    models.Stats
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

func newWatchModel(jobID string, job *models.Job) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return watchModel{
		jobID:    jobID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.progress.Init()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case pollUpdateMsg:
		m.job = msg.job
		m.stats = msg.stats
		return m, nil

	case pollDoneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.job == nil {
		return "Loading job status...\n"
	}

	counts := m.job.Counts()
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(m.stats.Progress)
	line := fmt.Sprintf("%s %s %d/%d items", status, bar, counts.Completed+counts.Failed, counts.Total)
	if m.stats.ETA > 0 && !m.job.Status.Terminal() {
		line += fmt.Sprintf("  ~%s left", m.stats.ETA.Round(time.Second))
	}
	hint := m.theme.hintStyle().Render("Press q to continue in background")
	return line + "\n" + hint + "\n"
}

func (m watchModel) finalView() string {
	if m.job == nil {
		return m.theme.errorStyle().Render("\n✗ Job disappeared from the server\n")
	}

	counts := m.job.Counts()
	switch m.job.Status {
	case models.JobFailed:
		reason := "all items failed"
		if m.job.Error != nil && *m.job.Error != "" {
			reason = *m.job.Error
		}
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", reason))
	case models.JobCancelled:
		return m.theme.hintStyle().Render("\nJob was cancelled\n")
	default:
		out := m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		out += fmt.Sprintf("  Items completed: %d\n", counts.Completed)
		if counts.Failed > 0 {
			out += m.theme.errorStyle().Render(fmt.Sprintf("  Items failed:    %d\n", counts.Failed))
		}
		if m.stats.AvgProcessingTime > 0 {
			out += fmt.Sprintf("  Avg per item:    %s\n", m.stats.AvgProcessingTime.Round(time.Millisecond))
		}
		return out
	}
}

// watchJob runs the interactive progress display until the job settles or
// the user backgrounds it. The poller keeps verifying final counts after
// the terminal status shows up, so the display quits on the poller's
// completion, not on the first terminal snapshot.
func watchJob(ctx context.Context, c *client.Client, jobID string) error {
	job, err := c.GetJobStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	p := tea.NewProgram(newWatchModel(jobID, job))

	if watchWS {
		return watchOverSocket(ctx, c, p, jobID)
	}

	poller := service.NewRemotePoller(c, service.PollerConfig{
		OnUpdate: func(u service.Update) {
			p.Send(pollUpdateMsg{job: u.Job, stats: u.Stats})
		},
	})
	if err := poller.Start(ctx, job); err != nil {
		return err
	}
	defer poller.Stop()

	go func() {
		<-poller.Done()
		p.Send(pollDoneMsg{})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok && m.quitting {
		fmt.Printf("Job %s continues on the server. Check it with: bulkgen jobs %s\n", jobID, jobID)
	}
	return nil
}

// watchOverSocket feeds the display from the server's push feed. The
// server broadcasts on every item transition, so there is no poll loop
// and no client-side verification pass; the stream ends with the first
// terminal snapshot.
func watchOverSocket(ctx context.Context, c *client.Client, p *tea.Program, jobID string) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.WatchJob(streamCtx, jobID, func(j *models.Job) error {
			p.Send(pollUpdateMsg{job: j, stats: models.DeriveStats(j)})
			return nil
		})
		p.Send(pollDoneMsg{})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	cancel()

	if m, ok := finalModel.(watchModel); ok && m.quitting {
		fmt.Printf("Job %s continues on the server. Check it with: bulkgen jobs %s\n", jobID, jobID)
		return nil
	}
	if werr := <-errCh; werr != nil && !errors.Is(werr, context.Canceled) {
		return werr
	}
	return nil
}
