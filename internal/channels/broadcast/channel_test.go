package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) With(args ...any) types.Logger { return nopLogger{} }

type mockSNS struct {
	inputs    []*sns.PublishInput
	returnErr error
}

func (m *mockSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-msg-1")}, nil
}

func testEvent() *types.NotificationEvent {
	return &types.NotificationEvent{
		EventID:   "evt-1",
		EventType: types.EventTestSuiteFailed,
		UserID:    "user-1",
		ProjectID: "proj-1",
	}
}

func TestNew_RequiresTopicARN(t *testing.T) {
	_, err := New(&mockSNS{}, "", nopLogger{})
	assert.Error(t, err)
}

func TestSend_PublishesWithUserAttributes(t *testing.T) {
	client := &mockSNS{}
	ch, err := New(client, "arn:aws:sns:us-east-1:123:notifications", nopLogger{})
	require.NoError(t, err)

	msgID, err := ch.Send(context.Background(), "user-1", types.RenderedContent{
		Subject: "Suite failed",
		Body:    "3 of 40 tests failed",
	}, testEvent())

	require.NoError(t, err)
	assert.Equal(t, "sns-msg-1", msgID)
	require.Len(t, client.inputs, 1)

	input := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123:notifications", *input.TopicArn)
	assert.Equal(t, "Suite failed", *input.Subject)
	assert.Equal(t, "user-1", *input.MessageAttributes["user_id"].StringValue)
	assert.Equal(t, "test_suite_failed", *input.MessageAttributes["event_type"].StringValue)

	var body message
	require.NoError(t, json.Unmarshal([]byte(*input.Message), &body))
	assert.Equal(t, "evt-1", body.EventID)
	assert.Equal(t, "3 of 40 tests failed", body.Body)
}

func TestSend_EmptySubjectOmitted(t *testing.T) {
	client := &mockSNS{}
	ch, err := New(client, "arn:aws:sns:us-east-1:123:notifications", nopLogger{})
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), "user-1", types.RenderedContent{Body: "body"}, testEvent())

	require.NoError(t, err)
	assert.Nil(t, client.inputs[0].Subject)
}

func TestSend_PublishFailureIsTransient(t *testing.T) {
	client := &mockSNS{returnErr: errors.New("service unavailable")}
	ch, err := New(client, "arn:aws:sns:us-east-1:123:notifications", nopLogger{})
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), "user-1", types.RenderedContent{Body: "body"}, testEvent())

	require.Error(t, err)
	assert.Equal(t, types.ErrCodeTransportServer, types.CodeOf(err))
}
