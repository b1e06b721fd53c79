package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zosmed/engine/pkg/instagram"
	"github.com/zosmed/engine/pkg/models"
)

// MockInstagramClient is a mock implementation of instagram.Client interface.
type MockInstagramClient struct {
	mock.Mock
}

func (m *MockInstagramClient) SendCommentReply(ctx context.Context, credential, commentID, text string) (instagram.Result, error) {
	args := m.Called(ctx, credential, commentID, text)

	return args.Get(0).(instagram.Result), args.Error(1)
}

func (m *MockInstagramClient) SendDirectMessage(
	ctx context.Context,
	credential, recipientID, text string,
	buttons []models.Button,
) (instagram.Result, error) {
	args := m.Called(ctx, credential, recipientID, text, buttons)

	return args.Get(0).(instagram.Result), args.Error(1)
}

func (m *MockInstagramClient) GetCommentDetails(ctx context.Context, credential, commentID string) (instagram.Comment, error) {
	args := m.Called(ctx, credential, commentID)

	return args.Get(0).(instagram.Comment), args.Error(1)
}
