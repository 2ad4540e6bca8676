package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber[T any] struct {
	events []T
	err    error
}

func (s *recordingSubscriber[T]) OnEvent(_ context.Context, ev T) error {
	s.events = append(s.events, ev)
	return s.err
}

func newTestListener(t *testing.T, origin string) (*redisEventListener, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	client, _ := redismock.NewClientMock()
	listener := NewRedisEventListener(logger, client, origin, event.Registry)
	return listener.(*redisEventListener), hook
}

func payload(t *testing.T, origin string, ev event.Event) string {
	t.Helper()
	data, err := encodeMessage(origin, ev)
	require.NoError(t, err)
	return string(data)
}

func TestRedisEventListener_DispatchesByType(t *testing.T) {
	listener, _ := newTestListener(t, "instance-a")
	rules := &recordingSubscriber[event.RulesReloadedEvent]{}
	geo := &recordingSubscriber[event.GeoPolicyUpdatedEvent]{}
	RegisterEventSubscriber[event.RulesReloadedEvent](listener, rules)
	RegisterEventSubscriber[event.GeoPolicyUpdatedEvent](listener, geo)

	listener.handleMessage(context.Background(), payload(t, "instance-b", event.RulesReloadedEvent{
		Rules: []config.RuleConfig{{ID: "login", WindowMs: 1000, Max: 3, Enabled: true}},
	}))

	require.Len(t, rules.events, 1)
	assert.Equal(t, "login", rules.events[0].Rules[0].ID)
	assert.Empty(t, geo.events)

	listener.handleMessage(context.Background(), payload(t, "instance-b", event.GeoPolicyUpdatedEvent{
		Policy: config.GeoBlockingConfig{Enabled: true, BlockedCountries: []string{"CN"}},
	}))

	require.Len(t, geo.events, 1)
	assert.Equal(t, []string{"CN"}, geo.events[0].Policy.BlockedCountries)
}

func TestRedisEventListener_SkipsOwnEvents(t *testing.T) {
	listener, _ := newTestListener(t, "instance-a")
	rules := &recordingSubscriber[event.RulesReloadedEvent]{}
	RegisterEventSubscriber[event.RulesReloadedEvent](listener, rules)

	listener.handleMessage(context.Background(), payload(t, "instance-a", event.RulesReloadedEvent{}))

	assert.Empty(t, rules.events)
}

func TestRedisEventListener_BadMessages(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		message string
	}{
		{"not json", "{", "error decoding redis message"},
		{"unknown type", `{"type":"Nope","origin":"x","event":{}}`, "error getting event type"},
		{"bad event body", `{"type":"RulesReloadedEvent","origin":"x","event":{"rules":"oops"}}`, "error unmarshalling event data into concrete type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener, hook := newTestListener(t, "instance-a")
			rules := &recordingSubscriber[event.RulesReloadedEvent]{}
			RegisterEventSubscriber[event.RulesReloadedEvent](listener, rules)

			listener.handleMessage(context.Background(), tt.payload)

			assert.Empty(t, rules.events)
			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
			assert.Equal(t, tt.message, hook.LastEntry().Message)
		})
	}
}

func TestRedisEventListener_SubscriberErrorIsLogged(t *testing.T) {
	listener, hook := newTestListener(t, "instance-a")
	rules := &recordingSubscriber[event.RulesReloadedEvent]{err: errors.New("duplicate rule")}
	RegisterEventSubscriber[event.RulesReloadedEvent](listener, rules)

	listener.handleMessage(context.Background(), payload(t, "instance-b", event.RulesReloadedEvent{}))

	assert.Len(t, rules.events, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "duplicate rule", hook.LastEntry().Data[logrus.ErrorKey].(error).Error())
}

func TestRedisEventPublisher_Publish(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher := NewRedisEventPublisher(client, "instance-a")
	ev := event.GeoPolicyUpdatedEvent{Policy: config.GeoBlockingConfig{Enabled: true}}
	data, err := encodeMessage("instance-a", ev)
	require.NoError(t, err)

	mock.ExpectPublish("trustshield:policy-events", data).SetVal(2)

	require.NoError(t, publisher.Publish(context.Background(), "trustshield:policy-events", ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisEventPublisher_PublishError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher := NewRedisEventPublisher(client, "instance-a")
	ev := event.RulesReloadedEvent{}
	data, err := encodeMessage("instance-a", ev)
	require.NoError(t, err)

	mock.ExpectPublish("trustshield:policy-events", data).SetErr(errors.New("connection refused"))

	assert.Error(t, publisher.Publish(context.Background(), "trustshield:policy-events", ev))
}

func TestNoopEventPublisher(t *testing.T) {
	assert.NoError(t, NewNoopEventPublisher().Publish(context.Background(), "any", event.RulesReloadedEvent{}))
}

