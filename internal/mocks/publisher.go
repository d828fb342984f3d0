package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PublisherMock stands in for the event broker.
type PublisherMock struct {
	mock.Mock
}

// ExpectEvent expects one envelope for eventType on its "chat.<type>" routing key.
func (m *PublisherMock) ExpectEvent(eventType string) *mock.Call {
	return m.On("Publish", mock.Anything, "chat."+eventType, mock.AnythingOfType("telemetry.EventEnvelope")).Return(nil).Once()
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
