package service

import (
	"context"
	"errors"
	"sync"

	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/management"
	"github.com/robcowart/ovpnm/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Daemon is the management interface of the running OpenVPN server
type Daemon interface {
	Version(ctx context.Context) (*management.Version, error)
	State(ctx context.Context) (*management.State, error)
	Status(ctx context.Context) (*management.Status, error)
	LoadStats(ctx context.Context) (*management.LoadStats, error)
	Log(ctx context.Context) ([]management.LogLine, error)
	KillClient(ctx context.Context, cid int64) (string, error)
	Signal(ctx context.Context, signal string) (string, error)
}

// Management actions
const (
	ActionKillClient  = "client-kill"
	ActionSoftRestart = "soft-restart"
	ActionHardRestart = "hard-restart"
	ActionShutdown    = "shutdown"
)

// DaemonService reports live daemon state and relays management actions.
// Reads run concurrently; actions are mutually exclusive.
type DaemonService struct {
	daemon  Daemon
	metrics *metrics.Metrics
	logger  *zap.Logger

	actionMu sync.Mutex
}

// NewDaemonService creates a new daemon service. m may be nil.
func NewDaemonService(daemon Daemon, m *metrics.Metrics, logger *zap.Logger) *DaemonService {
	return &DaemonService{
		daemon:  daemon,
		metrics: m,
		logger:  logger,
	}
}

// daemonError classifies a management failure. ERROR: replies are conflicts
// with the daemon state; transport failures and timeouts mean it is unavailable.
func daemonError(command string, err error) error {
	var derr *management.DaemonError
	switch {
	case errors.As(err, &derr):
		return &apperror.Error{Kind: apperror.KindConflict, Msg: "daemon rejected " + command, Detail: derr.Message, Err: err}
	case errors.Is(err, management.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return apperror.Unavailable("daemon is unavailable", err)
	default:
		return apperror.Internal("unexpected reply to "+command, err)
	}
}

// observe records the command outcome and classifies its error
func (s *DaemonService) observe(command string, err error) error {
	s.metrics.ObserveDaemonCommand(command, err)
	if err == nil {
		return nil
	}
	s.logger.Warn("Management command failed", zap.String("command", command), zap.Error(err))
	return daemonError(command, err)
}

// Info queries load stats, state, status and version. Nothing is cached.
func (s *DaemonService) Info(ctx context.Context) (*management.Info, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	var (
		loadStats *management.LoadStats
		state     *management.State
		status    *management.Status
		version   *management.Version
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		loadStats, err = s.daemon.LoadStats(gctx)
		return s.observe("load-stats", err)
	})
	g.Go(func() error {
		var err error
		state, err = s.daemon.State(gctx)
		return s.observe("state", err)
	})
	g.Go(func() error {
		var err error
		status, err = s.daemon.Status(gctx)
		return s.observe("status", err)
	})
	g.Go(func() error {
		var err error
		version, err = s.daemon.Version(gctx)
		return s.observe("version", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.metrics.SetConnectedClients(len(status.ClientList))
	return &management.Info{
		LoadStats: *loadStats,
		State:     state,
		Status:    *status,
		Version:   *version,
	}, nil
}

// Log returns the daemon log buffer, oldest first, with each line's severity
func (s *DaemonService) Log(ctx context.Context) ([]LogEntry, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	lines, err := s.daemon.Log(ctx)
	if err := s.observe("log", err); err != nil {
		return nil, err
	}

	entries := make([]LogEntry, len(lines))
	for i, line := range lines {
		entries[i] = LogEntry{LogLine: line, Severity: management.Severity(line.Flags)}
	}
	return entries, nil
}

// KillClient disconnects a connected client by its management client id
func (s *DaemonService) KillClient(ctx context.Context, cid int64) (*ActionResult, error) {
	user, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	msg, err := s.daemon.KillClient(ctx, cid)
	var derr *management.DaemonError
	if errors.As(err, &derr) {
		s.metrics.ObserveDaemonCommand(ActionKillClient, err)
		return nil, &apperror.Error{Kind: apperror.KindNotFound, Msg: "client is not connected", Detail: derr.Message, Err: err}
	}
	if err := s.observe(ActionKillClient, err); err != nil {
		return nil, err
	}

	s.logger.Info("Client killed", zap.Int64("cid", cid), zap.String("by", user.Name))
	return &ActionResult{Action: ActionKillClient, ClientID: &cid, Message: msg, At: now()}, nil
}

// SoftRestart sends SIGUSR1
func (s *DaemonService) SoftRestart(ctx context.Context) (*ActionResult, error) {
	return s.signal(ctx, ActionSoftRestart, management.SignalSoftRestart)
}

// HardRestart sends SIGHUP, which also rereads the server config
func (s *DaemonService) HardRestart(ctx context.Context) (*ActionResult, error) {
	return s.signal(ctx, ActionHardRestart, management.SignalHardRestart)
}

// Shutdown sends SIGTERM
func (s *DaemonService) Shutdown(ctx context.Context) (*ActionResult, error) {
	return s.signal(ctx, ActionShutdown, management.SignalShutdown)
}

func (s *DaemonService) signal(ctx context.Context, action, signal string) (*ActionResult, error) {
	user, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	msg, err := s.daemon.Signal(ctx, signal)
	if err := s.observe(action, err); err != nil {
		return nil, err
	}

	s.logger.Info("Daemon signalled", zap.String("action", action), zap.String("signal", signal), zap.String("by", user.Name))
	return &ActionResult{Action: action, Message: msg, At: now()}, nil
}
