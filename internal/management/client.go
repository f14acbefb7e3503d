// Package management talks to the OpenVPN management interface over its
// line-oriented TCP protocol.
package management

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable wraps every failure to reach or talk to the daemon
var ErrUnavailable = errors.New("management interface unavailable")

var welcomeVersion = regexp.MustCompile(`(?i)management interface version (\d+)`)

const (
	DefaultAddress        = "127.0.0.1:7505"
	DefaultDialTimeout    = 3 * time.Second
	DefaultCommandTimeout = 3 * time.Second
	DefaultMinVersion     = 1

	successPrefix = "SUCCESS:"
	errorPrefix   = "ERROR:"
	endMarker     = "END"
)

// DaemonError is an ERROR: reply from the daemon
type DaemonError struct {
	Command string
	Message string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Config holds connection settings
type Config struct {
	Address        string
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// MinVersion is the oldest management interface version accepted. Newer
	// daemons stay compatible with the commands used here.
	MinVersion     int
}

// Client is a single shared session with the daemon. Commands are serialized;
// the connection is dialed lazily and dropped after any I/O failure so the next
// command starts from a clean welcome.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	dialer net.Dialer
}

// NewClient creates a new management client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.MinVersion <= 0 {
		cfg.MinVersion = DefaultMinVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// Close sends exit and closes the session. Calling it on a closed client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CommandTimeout))
	if _, err := c.conn.Write([]byte("exit\n")); err != nil {
		c.logger.Warn("Failed to send exit", zap.Error(err))
	}
	return c.discard()
}

func (c *Client) discard() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// connect dials and verifies the welcome banner. Caller holds mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: failed to dial %s: %v", ErrUnavailable, c.cfg.Address, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	if err := c.verifyWelcome(ctx); err != nil {
		_ = c.discard()
		return err
	}
	c.logger.Debug("Connected to management interface", zap.String("address", c.cfg.Address))
	return nil
}

func (c *Client) verifyWelcome(ctx context.Context) error {
	stop := c.arm(ctx)
	line, err := c.readLine()
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return c.ioError(ctx, "welcome", err)
	}
	m := welcomeVersion.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("%w: unsupported management interface version: %q", ErrUnavailable, line)
	}
	if v, err := strconv.Atoi(m[1]); err != nil || v < c.cfg.MinVersion {
		return fmt.Errorf("%w: unsupported management interface version: %q", ErrUnavailable, line)
	}
	return nil
}

// arm applies the command timeout and the caller's deadline to the connection,
// and unblocks pending I/O when ctx is cancelled
func (c *Client) arm(ctx context.Context) func() bool {
	deadline := time.Now().Add(c.cfg.CommandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	conn := c.conn
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

func (c *Client) ioError(ctx context.Context, cmd string, err error) error {
	_ = c.discard()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", cmd, ctxErr)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, cmd, err)
}

func (c *Client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	c.logger.Debug("Recv", zap.String("line", line))
	return line, nil
}

func isRealtime(line string) bool {
	return strings.HasPrefix(line, ">")
}

// exec sends cmd and reads either a single-line reply or a block terminated by END
func (c *Client) exec(ctx context.Context, cmd string, multiline bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	stop := c.arm(ctx)
	defer func() {
		// the cancel hook may already have poisoned the deadline
		if !stop() {
			_ = c.discard()
		}
	}()

	c.logger.Debug("Send", zap.String("command", cmd))
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, c.ioError(ctx, cmd, err)
	}

	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, c.ioError(ctx, cmd, err)
		}
		if isRealtime(line) {
			continue
		}
		if strings.HasPrefix(line, errorPrefix) {
			return nil, &DaemonError{Command: cmd, Message: strings.TrimSpace(strings.TrimPrefix(line, errorPrefix))}
		}
		if !multiline {
			return []string{strings.TrimSpace(strings.TrimPrefix(line, successPrefix))}, nil
		}
		if line == endMarker {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// Version runs `version`
func (c *Client) Version(ctx context.Context) (*Version, error) {
	lines, err := c.exec(ctx, "version", true)
	if err != nil {
		return nil, err
	}
	return parseVersion(lines), nil
}

// State runs `state` and returns the current state, nil when the daemon reports none
func (c *Client) State(ctx context.Context) (*State, error) {
	lines, err := c.exec(ctx, "state", true)
	if err != nil {
		return nil, err
	}
	states, err := parseState(lines)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return &states[len(states)-1], nil
}

// Status runs `status 3`
func (c *Client) Status(ctx context.Context) (*Status, error) {
	lines, err := c.exec(ctx, "status 3", true)
	if err != nil {
		return nil, err
	}
	return parseStatus(lines, c.logger)
}

// LoadStats runs `load-stats`
func (c *Client) LoadStats(ctx context.Context) (*LoadStats, error) {
	lines, err := c.exec(ctx, "load-stats", false)
	if err != nil {
		return nil, err
	}
	return parseLoadStats(lines[0])
}

// Log runs `log all`, oldest line first
func (c *Client) Log(ctx context.Context) ([]LogLine, error) {
	lines, err := c.exec(ctx, "log all", true)
	if err != nil {
		return nil, err
	}
	return parseLog(lines)
}

// KillClient runs `client-kill` for the given client id
func (c *Client) KillClient(ctx context.Context, cid int64) (string, error) {
	lines, err := c.exec(ctx, fmt.Sprintf("client-kill %d", cid), false)
	if err != nil {
		return "", err
	}
	return lines[0], nil
}

// Signal sends a signal such as SIGUSR1 to the daemon
func (c *Client) Signal(ctx context.Context, signal string) (string, error) {
	switch signal {
	case SignalSoftRestart, SignalHardRestart, SignalShutdown, "SIGUSR2":
	default:
		return "", fmt.Errorf("unsupported signal: %s", signal)
	}
	lines, err := c.exec(ctx, "signal "+signal, false)
	if err != nil {
		return "", err
	}
	return lines[0], nil
}

const (
	SignalSoftRestart = "SIGUSR1"
	SignalHardRestart = "SIGHUP"
	SignalShutdown    = "SIGTERM"
)
