package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	signalPing     = "ping"
	signalPong     = "pong"
	signalAssign   = "assignJob"
	signalShutdown = "shutdown"

	commandRegister  = "register"
	commandJobUpdate = "jobUpdate"
)

// JobRequest describes one assigned agent session.
type JobRequest struct {
	ID          string
	RoomURL     string
	RoomToken   string
	RoomName    string
	Participant string
	Metadata    map[string]any
}

// Handler runs one job until the session ends or ctx is cancelled.
type Handler func(ctx context.Context, job JobRequest) error

// Config configures the worker.
type Config struct {
	URL   string
	Token string
	// AgentName is reported to the dispatch server on registration.
	AgentName string
	// MaxJobs bounds concurrently running jobs; zero means unbounded.
	MaxJobs int
}

// Worker maintains the dispatch connection and runs assigned jobs through
// the handler. Run reconnects with exponential backoff until ctx ends;
// running jobs survive a dropped dispatch connection.
type Worker struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	out     chan *Command

	mu        sync.Mutex
	connected bool
	attempt   int
	jobs      map[string]context.CancelFunc
	jobWG     sync.WaitGroup
}

// New creates a worker. The handler is invoked once per assigned job on its
// own goroutine.
func New(cfg Config, handler Handler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("agent", cfg.AgentName),
		out:     make(chan *Command, 64),
		jobs:    make(map[string]context.CancelFunc),
	}
}

// Run connects and serves until ctx is cancelled. Connection failures are
// retried with exponential backoff; the backoff resets after a successful
// registration.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting worker", "url", w.cfg.URL)

	for {
		if err := w.connectAndServe(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("dispatch connection failed", "error", err)
		}
		if ctx.Err() != nil {
			break
		}
		if err := w.backoff(ctx); err != nil {
			break
		}
	}

	w.logger.Info("worker shutting down, waiting for jobs")
	w.cancelAllJobs()
	w.jobWG.Wait()
	return nil
}

// Connected reports whether the dispatch connection is up.
func (w *Worker) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// ActiveJobs returns the number of running jobs.
func (w *Worker) ActiveJobs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jobs)
}

func (w *Worker) connectAndServe(ctx context.Context) error {
	client := newSocketClient(w.cfg.URL, w.cfg.Token)
	if err := client.connect(ctx); err != nil {
		return err
	}
	defer client.close()

	w.setConnected(true)
	defer w.setConnected(false)

	if err := client.writeCommand(&Command{
		Type: commandRegister,
		Data: map[string]any{
			"agent":    w.cfg.AgentName,
			"max_jobs": w.cfg.MaxJobs,
		},
	}); err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		for {
			signal, err := client.readSignal()
			if err != nil {
				errCh <- err
				return
			}
			w.handleSignal(serveCtx, signal)
		}
	}()

	go func() {
		for {
			select {
			case <-serveCtx.Done():
				return
			case cmd := <-w.out:
				if err := client.writeCommand(cmd); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (w *Worker) handleSignal(ctx context.Context, signal *Signal) {
	switch signal.Type {
	case signalPing:
		w.send(ctx, &Command{Type: signalPong, Data: signal.Data})

	case signalAssign:
		job := jobFromSignal(signal)
		w.logger.Info("job assigned", "job_id", job.ID, "room", job.RoomName)
		w.startJob(ctx, job)

	case signalShutdown:
		w.logger.Info("shutdown requested by server")
		w.cancelAllJobs()

	default:
		w.logger.Warn("unknown signal", "type", signal.Type)
	}
}

func (w *Worker) startJob(ctx context.Context, job JobRequest) {
	w.mu.Lock()
	if w.cfg.MaxJobs > 0 && len(w.jobs) >= w.cfg.MaxJobs {
		w.mu.Unlock()
		w.logger.Warn("job rejected, at capacity", "job_id", job.ID)
		w.send(ctx, jobUpdate(job.ID, "rejected", nil))
		return
	}

	// The job outlives the dispatch connection; it is bound to the worker
	// lifetime, not the socket.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.jobs[job.ID] = cancel
	w.mu.Unlock()

	w.send(ctx, jobUpdate(job.ID, "running", nil))

	w.jobWG.Add(1)
	go func() {
		defer w.jobWG.Done()
		defer cancel()

		err := w.handler(jobCtx, job)

		w.mu.Lock()
		delete(w.jobs, job.ID)
		w.mu.Unlock()

		if err != nil {
			w.logger.Error("job failed", "job_id", job.ID, "error", err)
			w.send(ctx, jobUpdate(job.ID, "failed", err))
			return
		}
		w.logger.Info("job finished", "job_id", job.ID)
		w.send(ctx, jobUpdate(job.ID, "finished", nil))
	}()
}

func (w *Worker) cancelAllJobs() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cancel := range w.jobs {
		cancel()
	}
}

func (w *Worker) send(ctx context.Context, cmd *Command) {
	select {
	case w.out <- cmd:
	case <-ctx.Done():
	}
}

func (w *Worker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if connected {
		w.attempt = 0
		w.logger.Info("registered with dispatch server")
	}
	w.connected = connected
}

func (w *Worker) backoff(ctx context.Context) error {
	w.mu.Lock()
	w.attempt++
	attempt := w.attempt
	w.mu.Unlock()

	// 1s, 2s, 4s... capped at 10s, with jitter to spread reconnects.
	delay := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second
	delay += time.Duration(rand.Int63n(int64(500 * time.Millisecond)))

	w.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func jobFromSignal(signal *Signal) JobRequest {
	job := JobRequest{
		ID:       stringField(signal.Data, "job_id"),
		RoomURL:  stringField(signal.Data, "room_url"),
		RoomName: stringField(signal.Data, "room_name"),
	}
	job.RoomToken = stringField(signal.Data, "room_token")
	job.Participant = stringField(signal.Data, "participant")
	if meta, ok := signal.Data["metadata"].(map[string]any); ok {
		job.Metadata = meta
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return job
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func jobUpdate(jobID, status string, err error) *Command {
	data := map[string]any{"job_id": jobID, "status": status}
	if err != nil {
		data["error"] = fmt.Sprintf("%v", err)
	}
	return &Command{Type: commandJobUpdate, Data: data}
}
