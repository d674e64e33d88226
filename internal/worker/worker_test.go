package worker

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
)

type dispatchServer struct {
	t        *testing.T
	srv      *httptest.Server
	conns    chan *websocket.Conn
	upgrader websocket.Upgrader
}

func newDispatchServer(t *testing.T) *dispatchServer {
	t.Helper()
	d := &dispatchServer{t: t, conns: make(chan *websocket.Conn, 4)}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.conns <- conn
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *dispatchServer) url() string {
	return "ws" + strings.TrimPrefix(d.srv.URL, "http")
}

func (d *dispatchServer) accept() *websocket.Conn {
	d.t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(2 * time.Second):
		d.t.Fatal("worker did not connect")
		return nil
	}
}

func readCommand(t *testing.T, conn *websocket.Conn) *Command {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd Command
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatalf("reading command: %v", err)
	}
	return &cmd
}

func TestWorkerRegistersAndAnswersPing(t *testing.T) {
	is := is.New(t)
	server := newDispatchServer(t)

	w := New(Config{URL: server.url(), Token: "tok", AgentName: "echo"}, func(ctx context.Context, job JobRequest) error {
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	conn := server.accept()
	defer conn.Close()

	register := readCommand(t, conn)
	is.Equal(register.Type, commandRegister)
	is.Equal(register.Data["agent"], "echo")

	is.NoErr(conn.WriteJSON(&Signal{Type: signalPing, Data: map[string]any{"seq": "1"}}))
	pong := readCommand(t, conn)
	is.Equal(pong.Type, signalPong)
	is.Equal(pong.Data["seq"], "1")
}

func TestWorkerRunsAssignedJob(t *testing.T) {
	is := is.New(t)
	server := newDispatchServer(t)

	jobs := make(chan JobRequest, 1)
	w := New(Config{URL: server.url(), Token: "tok", AgentName: "echo"}, func(ctx context.Context, job JobRequest) error {
		jobs <- job
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	conn := server.accept()
	defer conn.Close()
	readCommand(t, conn) // register

	is.NoErr(conn.WriteJSON(&Signal{Type: signalAssign, Data: map[string]any{
		"job_id":     "job-1",
		"room_url":   "wss://rooms.example.com",
		"room_token": "room-tok",
		"room_name":  "demo",
	}}))

	running := readCommand(t, conn)
	is.Equal(running.Type, commandJobUpdate)
	is.Equal(running.Data["status"], "running")

	select {
	case job := <-jobs:
		is.Equal(job.ID, "job-1")
		is.Equal(job.RoomName, "demo")
		is.Equal(job.RoomToken, "room-tok")
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	finished := readCommand(t, conn)
	is.Equal(finished.Data["status"], "finished")
}

func TestWorkerRejectsJobsOverCapacity(t *testing.T) {
	is := is.New(t)
	server := newDispatchServer(t)

	release := make(chan struct{})
	w := New(Config{URL: server.url(), Token: "tok", AgentName: "echo", MaxJobs: 1}, func(ctx context.Context, job JobRequest) error {
		<-release
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	conn := server.accept()
	defer conn.Close()
	readCommand(t, conn) // register

	is.NoErr(conn.WriteJSON(&Signal{Type: signalAssign, Data: map[string]any{"job_id": "job-1"}}))
	first := readCommand(t, conn)
	is.Equal(first.Data["status"], "running")

	is.NoErr(conn.WriteJSON(&Signal{Type: signalAssign, Data: map[string]any{"job_id": "job-2"}}))
	second := readCommand(t, conn)
	is.Equal(second.Data["status"], "rejected")
	is.Equal(w.ActiveJobs(), 1)

	close(release)
	third := readCommand(t, conn)
	is.Equal(third.Data["status"], "finished")
}

func TestWorkerReconnectsAfterDrop(t *testing.T) {
	is := is.New(t)
	server := newDispatchServer(t)

	w := New(Config{URL: server.url(), Token: "tok", AgentName: "echo"}, func(ctx context.Context, job JobRequest) error {
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	first := server.accept()
	readCommand(t, first) // register
	first.Close()

	// Backoff for the first retry is about one second.
	second := server.accept()
	defer second.Close()
	register := readCommand(t, second)
	is.Equal(register.Type, commandRegister)
}
