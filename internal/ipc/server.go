package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"taskwatch/internal/daemon"
	"taskwatch/internal/engine"
	"taskwatch/internal/logging"
	"taskwatch/internal/task"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Taskwatch", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return logging.WithComponent(s.logger, "ipc")
}

func viewFromTask(t task.Task) TaskView {
	return TaskView{
		ID:            t.ID,
		Label:         t.Label,
		Identifier:    t.Identifier,
		OriginRef:     t.OriginRef,
		State:         string(t.State),
		Detail:        t.Detail,
		Progress:      t.Progress,
		BoundEventID:  t.BoundEventID,
		FallbackBound: t.FallbackBound,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.Pong = true
	resp.PID = os.Getpid()
	return nil
}

func (s *service) StartTasks(req StartTasksRequest, resp *StartTasksResponse) error {
	if len(req.Targets) == 0 {
		return errors.New("start requires at least one target")
	}
	s.log().Debug("start tasks requested", logging.Int("target_count", len(req.Targets)))
	specs := make([]engine.OriginSpec, 0, len(req.Targets))
	for _, target := range req.Targets {
		specs = append(specs, engine.OriginSpec{
			Ref:        target.Ref,
			Label:      target.Label,
			Identifier: target.Identifier,
		})
	}
	ids, err := s.daemon.StartTasks(s.ctx, specs, req.DelayMS)
	if err != nil {
		return err
	}
	resp.TaskIDs = ids
	s.log().Info("tasks started via IPC",
		logging.String(logging.FieldEventType, "tasks_start"),
		logging.Int("task_count", len(ids)))
	return nil
}

func (s *service) RetryTasks(req RetryTasksRequest, resp *RetryTasksResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("retry requires at least one task id")
	}
	s.log().Debug("retry tasks requested", logging.Int("task_count", len(req.IDs)))
	retried, err := s.daemon.RetryTasks(s.ctx, req.IDs, req.DelayMS)
	if err != nil {
		return err
	}
	resp.Retried = retried
	s.log().Info("tasks retried via IPC",
		logging.String(logging.FieldEventType, "tasks_retry"),
		logging.Int("retried_count", len(retried)))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockPath
	resp.UnmatchedEvents = status.Engine.UnmatchedCount
	resp.TaskStats = make(map[string]int, len(status.Engine.Stats))
	for state, count := range status.Engine.Stats {
		resp.TaskStats[string(state)] = count
	}
	resp.Tasks = make([]TaskView, 0, len(status.Engine.Tasks))
	for _, t := range status.Engine.Tasks {
		resp.Tasks = append(resp.Tasks, viewFromTask(t))
	}
	return nil
}

func (s *service) ClearCompleted(_ ClearCompletedRequest, resp *ClearCompletedResponse) error {
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("completed tasks cleared",
		logging.String(logging.FieldEventType, "tasks_clear_completed"),
		logging.Int("removed_count", len(removed)))
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
