package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/management"
	"github.com/robcowart/ovpnm/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockDaemon struct {
	mock.Mock
}

func (m *mockDaemon) Version(ctx context.Context) (*management.Version, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).(*management.Version)
	return v, args.Error(1)
}

func (m *mockDaemon) State(ctx context.Context) (*management.State, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*management.State)
	return s, args.Error(1)
}

func (m *mockDaemon) Status(ctx context.Context) (*management.Status, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*management.Status)
	return s, args.Error(1)
}

func (m *mockDaemon) LoadStats(ctx context.Context) (*management.LoadStats, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*management.LoadStats)
	return s, args.Error(1)
}

func (m *mockDaemon) Log(ctx context.Context) ([]management.LogLine, error) {
	args := m.Called(ctx)
	lines, _ := args.Get(0).([]management.LogLine)
	return lines, args.Error(1)
}

func (m *mockDaemon) KillClient(ctx context.Context, cid int64) (string, error) {
	args := m.Called(ctx, cid)
	return args.String(0), args.Error(1)
}

func (m *mockDaemon) Signal(ctx context.Context, signal string) (string, error) {
	args := m.Called(ctx, signal)
	return args.String(0), args.Error(1)
}

func newTestMetrics(t *testing.T) *metrics.Metrics {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestDaemonService_Info(t *testing.T) {
	ctx := asUser(adminUser())

	t.Run("Combines every query", func(t *testing.T) {
		d := new(mockDaemon)
		d.On("LoadStats", mock.Anything).Return(&management.LoadStats{NClients: 1, BytesIn: 10, BytesOut: 20}, nil)
		d.On("State", mock.Anything).Return(&management.State{Time: 1700000000, State: "CONNECTED", Description: "SUCCESS"}, nil)
		d.On("Status", mock.Anything).Return(&management.Status{
			ClientList:   []management.Peer{{CommonName: "alice", ClientID: 3}},
			RoutingTable: []management.Route{},
			GlobalStats:  []string{},
		}, nil)
		d.On("Version", mock.Anything).Return(&management.Version{OpenVPN: "OpenVPN 2.6.8", Management: "5"}, nil)

		m := newTestMetrics(t)
		svc := NewDaemonService(d, m, zap.NewNop())

		info, err := svc.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), info.LoadStats.NClients)
		assert.Equal(t, "CONNECTED", info.State.State)
		require.Len(t, info.Status.ClientList, 1)
		assert.Equal(t, "alice", info.Status.ClientList[0].CommonName)
		assert.Equal(t, "5", info.Version.Management)
		d.AssertExpectations(t)
	})

	t.Run("Any failure fails the whole query", func(t *testing.T) {
		d := new(mockDaemon)
		d.On("LoadStats", mock.Anything).Return(nil, fmt.Errorf("dial: %w", management.ErrUnavailable))
		d.On("State", mock.Anything).Return((*management.State)(nil), nil).Maybe()
		d.On("Status", mock.Anything).Return(&management.Status{}, nil).Maybe()
		d.On("Version", mock.Anything).Return(&management.Version{}, nil).Maybe()

		_, err := NewDaemonService(d, nil, zap.NewNop()).Info(ctx)
		assert.ErrorIs(t, err, apperror.ErrUnavailable)
	})

	t.Run("Requires admin", func(t *testing.T) {
		svc := NewDaemonService(new(mockDaemon), nil, zap.NewNop())
		_, err := svc.Info(asUser(createUserModel("alice")))
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})
}

func TestDaemonService_Log(t *testing.T) {
	d := new(mockDaemon)
	d.On("Log", mock.Anything).Return([]management.LogLine{
		{Time: 1, Flags: "I", Message: "started"},
		{Time: 2, Flags: "IW", Message: "careful"},
		{Time: 3, Flags: "", Message: "plain"},
		{Time: 4, Flags: "FN", Message: "fatal"},
	}, nil)
	svc := NewDaemonService(d, nil, zap.NewNop())

	entries, err := svc.Log(asUser(adminUser()))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	severities := make([]int, len(entries))
	for i, e := range entries {
		severities[i] = e.Severity
	}
	assert.Equal(t, []int{2, 3, 0, 5}, severities)
	assert.Equal(t, "started", entries[0].Message)
}

func TestDaemonService_Actions(t *testing.T) {
	ctx := asUser(adminUser())

	t.Run("Kill", func(t *testing.T) {
		d := new(mockDaemon)
		d.On("KillClient", mock.Anything, int64(7)).Return("client-kill command succeeded", nil)
		core, logs := observer.New(zap.InfoLevel)
		svc := NewDaemonService(d, nil, zap.New(core))

		res, err := svc.KillClient(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, ActionKillClient, res.Action)
		require.NotNil(t, res.ClientID)
		assert.Equal(t, int64(7), *res.ClientID)
		assert.Equal(t, "client-kill command succeeded", res.Message)
		assert.Equal(t, 1, logs.FilterMessage("Client killed").Len())
	})

	t.Run("Kill of an unknown client", func(t *testing.T) {
		d := new(mockDaemon)
		d.On("KillClient", mock.Anything, int64(9)).Return("", &management.DaemonError{Command: "client-kill 9", Message: "client-kill command failed"})
		m := newTestMetrics(t)
		svc := NewDaemonService(d, m, zap.NewNop())

		_, err := svc.KillClient(ctx, 9)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
		assert.ErrorContains(t, err, "client is not connected")
	})

	t.Run("Signals", func(t *testing.T) {
		tests := []struct {
			action string
			signal string
			call   func(*DaemonService, context.Context) (*ActionResult, error)
		}{
			{ActionSoftRestart, management.SignalSoftRestart, (*DaemonService).SoftRestart},
			{ActionHardRestart, management.SignalHardRestart, (*DaemonService).HardRestart},
			{ActionShutdown, management.SignalShutdown, (*DaemonService).Shutdown},
		}
		for _, tt := range tests {
			t.Run(tt.action, func(t *testing.T) {
				d := new(mockDaemon)
				d.On("Signal", mock.Anything, tt.signal).Return("signal "+tt.signal+" thrown", nil)
				svc := NewDaemonService(d, nil, zap.NewNop())

				res, err := tt.call(svc, ctx)
				require.NoError(t, err)
				assert.Equal(t, tt.action, res.Action)
				assert.Nil(t, res.ClientID)
				d.AssertExpectations(t)
			})
		}
	})

	t.Run("Rejected signal", func(t *testing.T) {
		d := new(mockDaemon)
		d.On("Signal", mock.Anything, management.SignalHardRestart).Return("", &management.DaemonError{Command: "signal SIGHUP", Message: "signal not allowed"})
		_, err := NewDaemonService(d, nil, zap.NewNop()).HardRestart(ctx)
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("Daemon down", func(t *testing.T) {
		d := new(mockDaemon)
		d.On("Signal", mock.Anything, management.SignalShutdown).Return("", context.DeadlineExceeded)
		m := newTestMetrics(t)
		_, err := NewDaemonService(d, m, zap.NewNop()).Shutdown(ctx)
		assert.ErrorIs(t, err, apperror.ErrUnavailable)
	})

	t.Run("Requires admin", func(t *testing.T) {
		d := new(mockDaemon)
		svc := NewDaemonService(d, nil, zap.NewNop())
		_, err := svc.KillClient(asUser(createUserModel("alice")), 1)
		assert.ErrorIs(t, err, apperror.ErrForbidden)
		_, err = svc.SoftRestart(context.Background())
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
		d.AssertNotCalled(t, "KillClient", mock.Anything, mock.Anything)
	})
}

func TestDaemonService_Metrics(t *testing.T) {
	d := new(mockDaemon)
	d.On("Log", mock.Anything).Return(nil, fmt.Errorf("read: %w", management.ErrUnavailable))
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = NewDaemonService(d, m, zap.NewNop()).Log(asUser(adminUser()))
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "ovpnm_daemon_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
