package messaging_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/external/messaging"
)

type fakeDoer struct {
	status  int
	body    string
	lastReq *http.Request
	lastBody string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.lastBody = string(b)
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func TestWebhookSender_PostsMessageAndReturnsID(t *testing.T) {
	doer := &fakeDoer{status: 200, body: `{"message_id":"msg-1"}`}
	sender := messaging.NewWebhookSender(doer, "http://webhook.local/notify")

	result, err := sender.Send(context.Background(), messaging.Message{ToAddr: "peer-1", Channel: "agent", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.Equal(t, http.MethodPost, doer.lastReq.Method)
	assert.Contains(t, doer.lastBody, "hello")
	assert.NotEmpty(t, doer.lastReq.Header.Get("Idempotency-Key"))
}

func TestWebhookSender_NonSuccessStatusIsError(t *testing.T) {
	doer := &fakeDoer{status: 500, body: ""}
	sender := messaging.NewWebhookSender(doer, "http://webhook.local/notify")

	_, err := sender.Send(context.Background(), messaging.Message{ToAddr: "peer-1", Channel: "agent", Body: "hello"})
	assert.Error(t, err)
}

func TestWebhookSender_EmptyBodyIsNotAnError(t *testing.T) {
	doer := &fakeDoer{status: 204, body: ""}
	sender := messaging.NewWebhookSender(doer, "http://webhook.local/notify")

	_, err := sender.Send(context.Background(), messaging.Message{ToAddr: "peer-1", Channel: "agent", Body: "hi"})
	assert.NoError(t, err)
}
