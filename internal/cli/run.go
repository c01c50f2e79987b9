package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/bulkgen/internal/db"
	"github.com/raphaelgruber/bulkgen/internal/llm"
	"github.com/raphaelgruber/bulkgen/internal/models"
	"github.com/raphaelgruber/bulkgen/internal/service"
	"github.com/raphaelgruber/bulkgen/internal/session"
)

var (
	runChunkSize int
	runResume    bool
	runDiscard   bool
)

// snapshotInterval throttles durable session writes during processing.
const snapshotInterval = 500 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run [batch-file]",
	Short: "Generate a batch locally in this process",
	Long: `Run a batch of items through the LLM locally, without a bulkgen
server. Progress is checkpointed to a local session store, so an
interrupted run can be picked up later:

  bulkgen run items.csv --user alice          # start a batch
  bulkgen run --user alice --resume           # continue an interrupted one
  bulkgen run items.csv --user alice --discard  # drop the old one, start fresh`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLocal,
}

func init() {
	runCmd.Flags().IntVar(&runChunkSize, "chunk-size", service.DefaultChunkSize, "items dispatched concurrently per chunk")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume the interrupted batch")
	runCmd.Flags().BoolVar(&runDiscard, "discard", false, "discard any interrupted batch")
	rootCmd.AddCommand(runCmd)
}

func runLocal(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, nil)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close(context.Background())

	if err := dbClient.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := session.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	mgr := session.NewManager(store, userID)

	plan := models.LookupPlan(planID)
	ledger := &dbLedger{db: dbClient, limit: plan.MonthlyLimit}

	job, quota, err := prepareBatch(ctx, mgr, ledger, plan, args)
	if err != nil || job == nil {
		return err
	}

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}

	exec := service.NewLocalExecutor(model, ledger, service.ExecutorConfig{
		UserID:    userID,
		ChunkSize: runChunkSize,
		OnUpdate: func(u service.Update) {
			renderProgress(u)
			if err := mgr.RecordThrottled(context.Background(), snapshotInterval, "processing", u.Job, quota, planID); err != nil {
				fmt.Fprintf(os.Stderr, "\nWarning: session checkpoint failed: %v\n", err)
			}
		},
	})

	if err := mgr.Record(ctx, "processing", job, quota, planID); err != nil {
		return fmt.Errorf("checkpoint session: %w", err)
	}
	if err := exec.Start(ctx, job); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		// Stop waits for in-flight items, so the final checkpoint below
		// captures everything that actually finished.
		exec.Stop()
		final, _ := exec.Snapshot()
		if err := mgr.Record(context.Background(), "interrupted", final, quota, planID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint interrupted batch: %v\n", err)
		}
		fmt.Printf("\nInterrupted. Resume with: bulkgen run --user %s --resume\n", userID)
		return nil
	case <-exec.Done():
	}

	final, stats := exec.Snapshot()
	printSummary(final, stats)

	// A finished batch has nothing to recover.
	if err := mgr.Clear(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to clear session: %v\n", err)
	}
	if final.Status == models.JobFailed {
		return errors.New("all items failed")
	}
	return nil
}

// prepareBatch resolves what to run: a recovered batch, a fresh one from
// the batch file, or nothing when an interrupted batch needs an explicit
// decision first.
func prepareBatch(
	ctx context.Context,
	mgr *session.Manager,
	ledger service.QuotaLedger,
	plan models.Plan,
	args []string,
) (*models.Job, models.QuotaState, error) {
	candidate, err := mgr.RecoveryCandidate(ctx)
	if err != nil {
		return nil, models.QuotaState{}, fmt.Errorf("check for interrupted batch: %w", err)
	}

	if candidate != nil {
		if runDiscard {
			if err := mgr.Clear(ctx); err != nil {
				return nil, models.QuotaState{}, fmt.Errorf("discard session: %w", err)
			}
			fmt.Println("Discarded interrupted batch.")
		} else if runResume {
			job := requeueForResume(candidate.Job)
			counts := job.Counts()
			fmt.Printf("Resuming batch %s: %d of %d items remaining\n",
				job.ID, counts.Total-counts.Completed-counts.Failed, counts.Total)
			return job, candidate.Quota, nil
		} else {
			counts := models.CountItems(candidate.Job.Items)
			fmt.Printf("Found an interrupted batch from %s: %d/%d items done.\n",
				candidate.UpdatedAt.Format("15:04:05"), counts.Completed+counts.Failed, counts.Total)
			fmt.Println("Rerun with --resume to continue it, or --discard to drop it.")
			return nil, models.QuotaState{}, nil
		}
	} else if runResume {
		return nil, models.QuotaState{}, errors.New("no interrupted batch to resume")
	}

	if len(args) == 0 {
		return nil, models.QuotaState{}, errors.New("a batch file is required")
	}
	inputs, err := loadItems(args[0])
	if err != nil {
		return nil, models.QuotaState{}, err
	}

	gate := service.NewQuotaGate(ledger)
	quota, err := gate.Admit(ctx, userID, plan, len(inputs))
	if err != nil {
		var admErr *service.AdmissionError
		if errors.As(err, &admErr) {
			return nil, models.QuotaState{}, fmt.Errorf("batch rejected: %w", admErr)
		}
		return nil, models.QuotaState{}, err
	}

	job := &models.Job{
		ID:        uuid.New().String()[:8],
		UserID:    userID,
		Status:    models.JobInitializing,
		CreatedAt: time.Now(),
	}
	for i, input := range inputs {
		job.Items = append(job.Items, models.Item{
			ID:     fmt.Sprintf("%s-%d", job.ID, i),
			Input:  input,
			Status: models.ItemPending,
		})
	}

	fmt.Printf("Starting batch %s: %d items, %d remaining this month\n",
		job.ID, len(inputs), quota.Remaining())
	return job, quota, nil
}

// requeueForResume resets non-terminal items so the executor picks them up
// again. Terminal items keep their results and counted flags.
func requeueForResume(job *models.Job) *models.Job {
	out := *job
	out.Items = make([]models.Item, len(job.Items))
	copy(out.Items, job.Items)
	for i := range out.Items {
		if !out.Items[i].Status.Terminal() {
			out.Items[i].Status = models.ItemPending
			out.Items[i].StartedAt = nil
		}
	}
	out.Status = models.JobInitializing
	return &out
}

func renderProgress(u service.Update) {
	counts := u.Job.Counts()
	line := fmt.Sprintf("\r[%s] %d/%d done, %d failed",
		u.Job.Status, counts.Completed, counts.Total, counts.Failed)
	if !u.Job.Status.Terminal() && u.Stats.ETA > 0 {
		line += fmt.Sprintf(", ~%s left", u.Stats.ETA.Round(time.Second))
	}
	fmt.Print(line + "    ")
}

func printSummary(job *models.Job, stats models.Stats) {
	counts := job.Counts()
	fmt.Printf("\n\nBatch %s %s: %d completed, %d failed of %d\n",
		job.ID, job.Status, counts.Completed, counts.Failed, counts.Total)
	if stats.AvgProcessingTime > 0 {
		fmt.Printf("  Avg per item: %s\n", stats.AvgProcessingTime.Round(time.Millisecond))
	}
	for _, it := range job.Items {
		if it.Status == models.ItemFailed && it.Error != nil {
			fmt.Printf("  ✗ %s: %s\n", it.Input.Name, *it.Error)
		}
	}
}

// dbLedger binds the store's period-scoped quota queries to the current
// billing period and the plan's limit.
type dbLedger struct {
	db    *db.Client
	limit int
}

func (l *dbLedger) GetUsage(ctx context.Context, user string) (models.QuotaState, error) {
	return l.db.GetUsage(ctx, user, models.BillingPeriod(), l.limit)
}

func (l *dbLedger) IncrementUsage(ctx context.Context, user string, n int) (models.QuotaState, error) {
	return l.db.IncrementUsage(ctx, user, models.BillingPeriod(), n)
}
