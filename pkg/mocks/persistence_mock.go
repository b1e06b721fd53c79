package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zosmed/engine/pkg/models"
)

// MockAutomationStore is a mock implementation of persistence.AutomationStore interface.
type MockAutomationStore struct {
	mock.Mock
}

func (m *MockAutomationStore) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Automation), args.Error(1)
}

func (m *MockAutomationStore) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Integration), args.Error(1)
}

func (m *MockAutomationStore) IntegrationByExternalAccount(
	ctx context.Context,
	externalAccountID string,
) (*models.Integration, error) {
	args := m.Called(ctx, externalAccountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Integration), args.Error(1)
}

func (m *MockAutomationStore) AutomationsByIntegration(ctx context.Context, integrationID string) ([]*models.Automation, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Automation), args.Error(1)
}

// MockExecutionHistory is a mock implementation of persistence.ExecutionHistory interface.
type MockExecutionHistory struct {
	mock.Mock
}

func (m *MockExecutionHistory) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionHistory) ExecutionsByIntegration(
	ctx context.Context,
	integrationID string,
	since time.Time,
) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, integrationID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}
