package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediahub/internal/events"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHub(client)
}

type published struct {
	userID int64
	n      Notification
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []published
	fail bool
}

func (p *fakePublisher) Publish(_ context.Context, userID int64, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("redis down")
	}
	p.got = append(p.got, published{userID, n})
	return nil
}

type sentMail struct {
	to      []string
	subject string
	html    string
}

type fakeMailer struct {
	sent []sentMail
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, to []string, subject, html string) error {
	if m.fail {
		return errors.New("sendgrid down")
	}
	m.sent = append(m.sent, sentMail{to, subject, html})
	return nil
}

func statusMessage(status string, email *string) events.Message {
	return events.Message{Event: events.StatusUpdated{UserID: 3, FileID: 9, Status: status, Message: `File "a.txt" <done>`, Email: email}}
}

func TestFanoutSeverityAndEmail(t *testing.T) {
	email := "alice@example.com"
	pub := &fakePublisher{}
	mailer := &fakeMailer{}
	f := NewFanout(pub, mailer, quietLogger())
	ctx := context.Background()

	require.NoError(t, f.Handle(ctx, statusMessage("processing", &email)))
	require.NoError(t, f.Handle(ctx, statusMessage("failed", &email)))
	require.NoError(t, f.Handle(ctx, statusMessage("success", nil)))
	require.NoError(t, f.Handle(ctx, statusMessage("success", &email)))

	require.Len(t, pub.got, 4)
	assert.Equal(t, int64(3), pub.got[0].userID)
	assert.Equal(t, TypeInfo, pub.got[0].n.Type)
	assert.Equal(t, CategoryFile, pub.got[0].n.Category)
	assert.Equal(t, TypeError, pub.got[1].n.Type)
	assert.Equal(t, TypeInfo, pub.got[3].n.Type)

	require.Len(t, mailer.sent, 2, "only finished statuses with an address are mailed")
	assert.Equal(t, []string{email}, mailer.sent[0].to)
	assert.Equal(t, "Your file processing has finished", mailer.sent[0].subject)
	assert.Equal(t, `<p>File &#34;a.txt&#34; &lt;done&gt;</p>`, mailer.sent[0].html)
}

func TestFanoutSwallowsFailures(t *testing.T) {
	email := "alice@example.com"
	f := NewFanout(&fakePublisher{fail: true}, &fakeMailer{fail: true}, quietLogger())
	assert.NoError(t, f.Handle(context.Background(), statusMessage("failed", &email)))
}

func TestFanoutIgnoresOtherEvents(t *testing.T) {
	pub := &fakePublisher{}
	f := NewFanout(pub, nil, quietLogger())
	require.NoError(t, f.Handle(context.Background(), events.Message{Event: events.FileUploaded{FileID: 1}}))
	assert.Empty(t, pub.got)
}

func TestHubPublishSubscribe(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, 5)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Publish(ctx, 5, Notification{Type: TypeInfo, Category: CategoryFile, Message: "hello"}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "noti:5", msg.Channel)
		var n Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, "hello", n.Message)
		assert.JSONEq(t, `{"type":"info","category":"file","message":"hello"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestGatewayRelaysMessages(t *testing.T) {
	hub := newTestHub(t)
	gw := NewGateway(hub, func(*http.Request) bool { return true }, quietLogger())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.Serve(w, r, 8)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi there")))
	require.NoError(t, hub.Publish(context.Background(), 8, Notification{Type: TypeError, Category: CategoryFile, Message: "oops"}))
	require.NoError(t, hub.Publish(context.Background(), 9, Notification{Type: TypeInfo, Category: CategoryFile, Message: "not yours"}))
	require.NoError(t, hub.Publish(context.Background(), 8, Notification{Type: TypeInfo, Category: CategoryFile, Message: "second"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"type":"error","category":"file","message":"oops"}`, string(data))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "second")
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "noti:12", ChannelName(12))
}
