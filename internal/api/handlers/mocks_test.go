package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/robcowart/ovpnm/internal/management"
	"github.com/robcowart/ovpnm/internal/service"
	"github.com/stretchr/testify/mock"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// MockDirectoryService implements SetupService and DirectoryService
type MockDirectoryService struct {
	mock.Mock
}

func (m *MockDirectoryService) IsSetupComplete(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockDirectoryService) Setup(ctx context.Context, req *service.SetupRequest) (*service.SetupResponse, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.SetupResponse)
	return res, args.Error(1)
}

func (m *MockDirectoryService) Login(ctx context.Context, name, password string) (string, *models.User, error) {
	args := m.Called(ctx, name, password)
	user, _ := args.Get(1).(*models.User)
	return args.String(0), user, args.Error(2)
}

func (m *MockDirectoryService) Me(ctx context.Context) (*models.User, error) {
	args := m.Called(ctx)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *MockDirectoryService) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *MockDirectoryService) ListUsers(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]*models.User)
	return users, args.Error(1)
}

type MockClientService struct {
	mock.Mock
}

func (m *MockClientService) GetByUser(ctx context.Context, userID string, detail bool) (*service.ClientView, error) {
	args := m.Called(ctx, userID, detail)
	v, _ := args.Get(0).(*service.ClientView)
	return v, args.Error(1)
}

func (m *MockClientService) Get(ctx context.Context, clientID string) (*service.ClientView, error) {
	args := m.Called(ctx, clientID)
	v, _ := args.Get(0).(*service.ClientView)
	return v, args.Error(1)
}

func (m *MockClientService) List(ctx context.Context) ([]*service.ClientView, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).([]*service.ClientView)
	return v, args.Error(1)
}

func (m *MockClientService) ImportFromUser(ctx context.Context, userID string) (*service.ClientView, error) {
	args := m.Called(ctx, userID)
	v, _ := args.Get(0).(*service.ClientView)
	return v, args.Error(1)
}

type MockCredentialService struct {
	mock.Mock
}

func (m *MockCredentialService) view(args mock.Arguments) (*service.CredentialView, error) {
	v, _ := args.Get(0).(*service.CredentialView)
	return v, args.Error(1)
}

func (m *MockCredentialService) Get(ctx context.Context, id string, detail bool) (*service.CredentialView, error) {
	return m.view(m.Called(ctx, id, detail))
}

func (m *MockCredentialService) Generate(ctx context.Context, clientID string) (*service.CredentialView, error) {
	return m.view(m.Called(ctx, clientID))
}

func (m *MockCredentialService) Import(ctx context.Context, req *service.ImportCredentialRequest) (*service.CredentialView, error) {
	return m.view(m.Called(ctx, req))
}

func (m *MockCredentialService) Revoke(ctx context.Context, id string) (*service.CredentialView, error) {
	return m.view(m.Called(ctx, id))
}

func (m *MockCredentialService) Unrevoke(ctx context.Context, id string) (*service.CredentialView, error) {
	return m.view(m.Called(ctx, id))
}

func (m *MockCredentialService) UpdateCRL(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCredentialService) ExportConfig(ctx context.Context, id, platform string) (string, error) {
	args := m.Called(ctx, id, platform)
	return args.String(0), args.Error(1)
}

func (m *MockCredentialService) ExportPKCS12(ctx context.Context, id, password string, legacy bool) ([]byte, error) {
	args := m.Called(ctx, id, password, legacy)
	pfx, _ := args.Get(0).([]byte)
	return pfx, args.Error(1)
}

type MockRouteService struct {
	mock.Mock
}

func (m *MockRouteService) mutation(args mock.Arguments) (*service.RouteMutation, error) {
	res, _ := args.Get(0).(*service.RouteMutation)
	return res, args.Error(1)
}

func (m *MockRouteService) List(ctx context.Context) ([]*models.RouteRule, error) {
	args := m.Called(ctx)
	routes, _ := args.Get(0).([]*models.RouteRule)
	return routes, args.Error(1)
}

func (m *MockRouteService) Get(ctx context.Context, id string) (*models.RouteRule, error) {
	args := m.Called(ctx, id)
	route, _ := args.Get(0).(*models.RouteRule)
	return route, args.Error(1)
}

func (m *MockRouteService) Create(ctx context.Context, in *service.RouteInput) (*service.RouteMutation, error) {
	return m.mutation(m.Called(ctx, in))
}

func (m *MockRouteService) Update(ctx context.Context, id string, in *service.RouteInput) (*service.RouteMutation, error) {
	return m.mutation(m.Called(ctx, id, in))
}

func (m *MockRouteService) Delete(ctx context.Context, id string) (*service.RouteMutation, error) {
	return m.mutation(m.Called(ctx, id))
}

func (m *MockRouteService) RestartRequired(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockRouteService) AcknowledgeRestart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockDaemonService struct {
	mock.Mock
}

func (m *MockDaemonService) result(args mock.Arguments) (*service.ActionResult, error) {
	res, _ := args.Get(0).(*service.ActionResult)
	return res, args.Error(1)
}

func (m *MockDaemonService) Info(ctx context.Context) (*management.Info, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*management.Info)
	return info, args.Error(1)
}

func (m *MockDaemonService) Log(ctx context.Context) ([]service.LogEntry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]service.LogEntry)
	return entries, args.Error(1)
}

func (m *MockDaemonService) KillClient(ctx context.Context, cid int64) (*service.ActionResult, error) {
	return m.result(m.Called(ctx, cid))
}

func (m *MockDaemonService) SoftRestart(ctx context.Context) (*service.ActionResult, error) {
	return m.result(m.Called(ctx))
}

func (m *MockDaemonService) HardRestart(ctx context.Context) (*service.ActionResult, error) {
	return m.result(m.Called(ctx))
}

func (m *MockDaemonService) Shutdown(ctx context.Context) (*service.ActionResult, error) {
	return m.result(m.Called(ctx))
}
