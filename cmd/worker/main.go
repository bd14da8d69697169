package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cmdpkg "github.com/stupiduntilnot/tutor/internal/commander"
	"github.com/stupiduntilnot/tutor/internal/config"
	"github.com/stupiduntilnot/tutor/internal/control"
	"github.com/stupiduntilnot/tutor/internal/conversation"
	"github.com/stupiduntilnot/tutor/internal/db"
	"github.com/stupiduntilnot/tutor/internal/dummy"
	"github.com/stupiduntilnot/tutor/internal/logging"
	"github.com/stupiduntilnot/tutor/internal/pipeline"
	"github.com/stupiduntilnot/tutor/internal/resolve"
	"github.com/stupiduntilnot/tutor/internal/telegram"
)

const welcomeMessage = "Hello! I'm your AI music assistant. I can help you with practice techniques, provide feedback on your progress, and suggest exercises tailored to your skill level. What would you like help with today?"

// outcomeWelcome marks replies that bypassed the resolution pipeline.
const outcomeWelcome = "welcome"

// Error classes fed to the circuit breaker.
const (
	classCommandSource = "command_source_api"
	classDB            = "db"
)

func main() {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("load config", zap.Error(err))
	}

	logger, closeLog, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("init logger", zap.Error(err))
	}
	defer closeLog()
	logger = logger.With(zap.String("worker", cfg.WorkerInstanceID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer database.Close()

	if err := db.InitSchema(database); err != nil {
		logger.Fatal("init schema", zap.Error(err))
	}
	if n, err := db.RequeueStale(database); err != nil {
		logger.Fatal("requeue stale tasks", zap.Error(err))
	} else if n > 0 {
		logger.Info("requeued interrupted tasks", zap.Int64("count", n))
	}

	processEventID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"role":         "worker",
		"pid":          os.Getpid(),
		"source":       cfg.Commander,
		"personalized": cfg.PersonalizedProvider,
		"generic":      cfg.GenericProvider,
	})
	if err != nil {
		logger.Warn("failed to log process.started", zap.Error(err))
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		logger.Fatal("init commander", zap.Error(err))
	}
	orchestrator, err := pipeline.Build(&cfg, database, logger)
	if err != nil {
		logger.Fatal("init orchestrator", zap.Error(err))
	}

	w := &worker{
		db:             database,
		cfg:            cfg,
		commander:      commander,
		orchestrator:   orchestrator,
		history:        &conversation.SQLiteStore{DB: database},
		retry:          control.RetryPolicy{MaxRetries: cfg.MaxRetries},
		circuit:        control.NewCircuitBreaker(5, 30*time.Second),
		logger:         logger,
		processEventID: processEventID,
	}

	logger.Info("worker running",
		zap.String("source", cfg.Commander),
		zap.String("personalized", cfg.PersonalizedProvider),
		zap.String("generic", cfg.GenericProvider),
		zap.Duration("deadline", cfg.Budget().Total()),
		zap.Int("concurrency", cfg.Concurrency))

	w.run(ctx)

	w.event(db.EventProcessStopped, map[string]any{"reason": "signal"})
	logger.Info("worker stopped")
}

type worker struct {
	db             *sql.DB
	cfg            config.WorkerConfig
	commander      cmdpkg.Commander
	orchestrator   *resolve.Orchestrator
	history        conversation.Store
	retry          control.RetryPolicy
	circuit        *control.CircuitBreaker
	logger         *zap.Logger
	processEventID int64
}

// reply is a resolved but not yet delivered answer.
type reply struct {
	text    string
	outcome string
}

func (w *worker) run(ctx context.Context) {
	offset, err := db.DeriveOffset(w.db)
	if err != nil {
		w.logger.Fatal("derive offset", zap.Error(err))
	}
	if offset == 0 && w.cfg.DropPending {
		bootstrapped, err := bootstrapOffset(ctx, w.commander, w.cfg.PendingWindow)
		if err != nil {
			w.logger.Warn("bootstrap offset", zap.Error(err))
		} else {
			offset = bootstrapped
		}
	}

	idle := time.Duration(w.cfg.SleepSeconds) * time.Second
	for ctx.Err() == nil {
		allowed, halfOpened := w.circuit.Allow(time.Now())
		if !allowed {
			sleepCtx(ctx, idle)
			continue
		}
		if halfOpened {
			w.event(db.EventCircuitHalfOpen, map[string]any{"error_class": w.circuit.OpenedClass()})
		}

		pollTimeout := w.cfg.PollTimeout
		if db.HasRunnableTasks(w.db, w.retry.RetryReady) {
			pollTimeout = 0
		}
		updates, err := w.commander.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("getUpdates failed", zap.Error(err))
			w.recordFailure(classCommandSource)
			sleepCtx(ctx, idle)
			continue
		}
		w.recordSuccess()

		for _, update := range updates {
			offset = update.UpdateID + 1
			w.accept(update)
		}

		tasks, err := db.ClaimTasks(w.db, w.cfg.Concurrency, w.retry.RetryReady)
		if err != nil {
			w.logger.Error("claim tasks", zap.Error(err))
			w.recordFailure(classDB)
			sleepCtx(ctx, idle)
			continue
		}
		if len(tasks) == 0 {
			sleepCtx(ctx, idle)
			continue
		}
		w.processBatch(ctx, tasks)
	}
}

// accept enqueues a message. Blank and non-text messages are ignored.
func (w *worker) accept(update cmdpkg.Update) {
	msg := update.Message
	if msg == nil || msg.Text == nil {
		return
	}
	text := strings.TrimSpace(*msg.Text)
	if text == "" {
		w.logger.Debug("ignoring blank message", zap.Int64("update_id", update.UpdateID))
		return
	}
	var userID, username string
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
		username = msg.From.Username
	}

	// The username stands in for the email field of provider requests.
	inserted, err := db.EnqueueMessage(w.db, update.UpdateID, msg.Chat.ID, userID, username, text, msg.Date)
	if err != nil {
		w.logger.Error("enqueue message", zap.Int64("update_id", update.UpdateID), zap.Error(err))
		return
	}
	if inserted {
		w.event(db.EventMessageReceived, map[string]any{
			"update_id": update.UpdateID,
			"chat_id":   msg.Chat.ID,
			"user_id":   userID,
			"text":      truncate(text, 1000),
		})
	}
}

// processBatch resolves tasks concurrently, then delivers the replies in
// inbox order. A cancelled context leaves unresolved tasks in_progress for
// RequeueStale on the next start.
func (w *worker) processBatch(ctx context.Context, tasks []db.Task) {
	replies := make([]*reply, len(tasks))
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			r, err := w.resolveTask(ctx, task)
			if err != nil {
				return err
			}
			replies[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.logger.Info("batch interrupted", zap.Error(err))
	}

	for i, task := range tasks {
		if replies[i] == nil || ctx.Err() != nil {
			continue
		}
		w.deliver(ctx, task, *replies[i])
	}
}

// resolveTask produces the reply for a task. A reply saved by an earlier
// attempt is reused so a failed delivery never re-runs the pipeline.
func (w *worker) resolveTask(ctx context.Context, task db.Task) (*reply, error) {
	if task.Reply != "" {
		return &reply{text: task.Reply, outcome: task.Outcome}, nil
	}

	var r reply
	if isWelcome(task.Text) {
		r = reply{text: welcomeMessage, outcome: outcomeWelcome}
		w.event(db.EventWelcomeSent, map[string]any{"task_id": task.ID, "chat_id": task.ChatID})
	} else {
		res, err := w.runPipeline(ctx, task)
		if err != nil {
			return nil, err
		}
		r = reply{text: res.Text, outcome: string(res.Outcome)}
	}

	if err := db.SaveReply(w.db, task.ID, r.text, r.outcome); err != nil {
		w.logger.Error("save reply", zap.Int64("task_id", task.ID), zap.Error(err))
	}
	return &r, nil
}

func (w *worker) runPipeline(ctx context.Context, task db.Task) (resolve.Result, error) {
	parentID := w.childEvent(w.processEventID, db.EventResolutionStarted, map[string]any{
		"task_id": task.ID,
		"chat_id": task.ChatID,
		"user_id": task.UserID,
	})
	if parentID == 0 {
		parentID = w.processEventID
	}

	res, err := w.orchestrator.Run(ctx, resolve.Input{
		Message:   task.Text,
		UserID:    task.UserID,
		UserEmail: task.UserEmail,
	})
	if err != nil {
		w.childEvent(parentID, db.EventResolutionCanceled, map[string]any{"task_id": task.ID, "error": err.Error()})
		return resolve.Result{}, err
	}

	w.childEvent(parentID, db.EventCredentialResolved, map[string]any{"has_credential": res.HasCredential})
	for _, a := range res.Attempts {
		payload := map[string]any{
			"tier":        string(a.Tier),
			"error_class": a.Class,
		}
		eventType := db.EventTierSkipped
		if !a.Skipped {
			eventType = db.EventTierFailed
			payload["latency_ms"] = a.Latency.Milliseconds()
			payload["error"] = truncate(a.Err.Error(), 1000)
		}
		w.childEvent(parentID, eventType, payload)
	}
	w.childEvent(parentID, db.EventTierSucceeded, map[string]any{"tier": string(res.Outcome)})
	w.childEvent(parentID, db.EventResolutionCompleted, map[string]any{
		"task_id":    task.ID,
		"outcome":    string(res.Outcome),
		"latency_ms": res.Latency.Milliseconds(),
	})
	return res, nil
}

// deliver sends a reply, records both sides of the exchange in history and
// settles the task. Send failures are retried on later polls.
func (w *worker) deliver(ctx context.Context, task db.Task, r reply) {
	if err := w.commander.SendMessage(ctx, task.ChatID, r.text); err != nil {
		w.logger.Warn("send reply failed", zap.Int64("task_id", task.ID), zap.Error(err))
		w.recordFailure(classCommandSource)
		w.event(db.EventReplyFailed, map[string]any{"task_id": task.ID, "error": truncate(err.Error(), 1000)})

		if w.retry.ShouldRetry(int(task.Attempts)) {
			if markErr := db.MarkTaskFailed(w.db, task.ID, err.Error()); markErr != nil {
				w.logger.Error("mark task failed", zap.Int64("task_id", task.ID), zap.Error(markErr))
			}
			w.event(db.EventRetryScheduled, map[string]any{
				"task_id":         task.ID,
				"attempt":         task.Attempts,
				"backoff_seconds": control.RetryBackoffSeconds(int(task.Attempts)),
			})
		} else {
			if markErr := db.MarkTaskDead(w.db, task.ID, err.Error()); markErr != nil {
				w.logger.Error("mark task dead", zap.Int64("task_id", task.ID), zap.Error(markErr))
			}
			w.event(db.EventRetryExhausted, map[string]any{"task_id": task.ID, "attempts": task.Attempts})
		}
		return
	}

	now := time.Now()
	for _, msg := range []conversation.Message{
		conversation.NewUserMessage(task.Text, now),
		conversation.NewAssistantMessage(r.text, now),
	} {
		if err := w.history.Append(ctx, task.ChatID, msg); err != nil {
			w.logger.Error("append history", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
	if err := db.MarkTaskDone(w.db, task.ID); err != nil {
		w.logger.Error("mark task done", zap.Int64("task_id", task.ID), zap.Error(err))
	}
	w.event(db.EventReplySent, map[string]any{"task_id": task.ID, "outcome": r.outcome})
}

func (w *worker) recordFailure(class string) {
	if w.circuit.RecordFailure(class, time.Now()) {
		w.logger.Warn("circuit opened", zap.String("error_class", class))
		w.event(db.EventCircuitOpened, map[string]any{
			"error_class":      class,
			"threshold":        w.circuit.Threshold,
			"cooldown_seconds": int(w.circuit.Cooldown.Seconds()),
		})
	}
}

func (w *worker) recordSuccess() {
	if w.circuit.RecordSuccess() {
		w.event(db.EventCircuitClosed, map[string]any{"recovered": true})
	}
}

// event logs a child of the process event. Failures only reach the log.
func (w *worker) event(eventType string, payload map[string]any) {
	w.childEvent(w.processEventID, eventType, payload)
}

// childEvent logs an event under parentID and returns its id, or 0 when the
// insert failed.
func (w *worker) childEvent(parentID int64, eventType string, payload map[string]any) int64 {
	var parent *int64
	if parentID != 0 {
		parent = &parentID
	}
	id, err := db.LogEvent(w.db, parent, eventType, payload)
	if err != nil {
		w.logger.Warn("log event", zap.String("event_type", eventType), zap.Int64("parent_id", parentID), zap.Error(err))
		return 0
	}
	return id
}

func isWelcome(text string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	return cmd == "/start" || strings.HasPrefix(cmd, "/start@")
}

// bootstrapOffset skips updates older than the pending window on first run.
func bootstrapOffset(ctx context.Context, commander cmdpkg.Commander, pendingWindowSeconds int64) (int64, error) {
	updates, err := commander.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Unix() - pendingWindowSeconds
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			return u.UpdateID, nil
		}
	}
	return updates[len(updates)-1].UpdateID + 1, nil
}

func newCommander(cfg *config.WorkerConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.PollTimeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
