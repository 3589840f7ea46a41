package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentdesk/internal/domain"
)

var identities = map[string]domain.Identity{
	"tenant-1":   {UserID: "user-t1", Role: domain.RoleTenant, TenantID: "tenant-1"},
	"tenant-2":   {UserID: "user-t2", Role: domain.RoleTenant, TenantID: "tenant-2"},
	"landlord-1": {UserID: "landlord-1", Role: domain.RoleLandlord},
	"admin":      {UserID: "admin-1", Role: domain.RoleAdmin},
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identities[r.URL.Query().Get("as")]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, id)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, as string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?as=" + as
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt domain.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

func TestHub_RoomFanOut(t *testing.T) {
	hub, srv := startHub(t)
	tenant := dial(t, srv, "tenant-1")
	otherTenant := dial(t, srv, "tenant-2")
	landlord := dial(t, srv, "landlord-1")
	admin := dial(t, srv, "admin")
	require.Eventually(t, func() bool { return hub.ClientCount() == 4 }, 2*time.Second, 10*time.Millisecond)

	evt := domain.Event{
		Name:    domain.EventPaymentCreated,
		Rooms:   domain.RoomsFor("tenant-1", "landlord-1"),
		Payload: map[string]any{"amount": 2500},
		At:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, hub.Publish(context.Background(), evt))

	for _, conn := range []*websocket.Conn{tenant, landlord, admin} {
		got := readEvent(t, conn)
		assert.Equal(t, domain.EventPaymentCreated, got.Name)
		assert.Equal(t, evt.At, got.At)
	}
	expectSilence(t, otherTenant)
}

func TestHub_RequestRefreshAnswersOnlyRequester(t *testing.T) {
	hub, srv := startHub(t)
	tenant := dial(t, srv, "tenant-1")
	admin := dial(t, srv, "admin")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tenant.WriteJSON(map[string]string{"event": "request:refresh"}))
	got := readEvent(t, tenant)
	assert.Equal(t, domain.EventDashboardRefresh, got.Name)
	assert.Equal(t, []string{"tenant-tenant-1"}, got.Rooms)
	expectSilence(t, admin)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "landlord-1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	// 广播缓冲未满时仍可能入队，填满后必须返回 ErrHubClosed
	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = hub.Publish(context.Background(), domain.Event{Name: domain.EventDashboardRefresh, Rooms: []string{domain.AdminRoom}})
	}
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}

// recordingSink 记录收到的事件
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRedisBridge_RelaysAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	localA, localB := &recordingSink{}, &recordingSink{}
	a := NewRedisBridge(client, "rentdesk:events", "rentdesk:events:log", 100, "node-a", localA, zap.NewNop())
	b := NewRedisBridge(client, "rentdesk:events", "rentdesk:events:log", 100, "node-b", localB, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("rentdesk:events")["rentdesk:events"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	evt := domain.Event{Name: domain.EventLeaseUpdated, Rooms: []string{"tenant-tenant-1", domain.AdminRoom}}
	require.NoError(t, a.Publish(ctx, evt))

	require.Eventually(t, func() bool { return localB.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.EventLeaseUpdated, localB.events[0].Name)
	assert.Equal(t, evt.Rooms, localB.events[0].Rooms)
	// 自己发出的消息不回灌
	assert.Equal(t, 0, localA.len())

	logged, err := a.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, domain.EventLeaseUpdated, logged[0].Name)
}

type fakeTopicPublisher struct {
	topic   string
	payload []byte
	err     error
}

func (f *fakeTopicPublisher) Publish(topic string, _ bool, payload []byte) error {
	f.topic, f.payload = topic, payload
	return f.err
}

func TestMQTTMirror(t *testing.T) {
	pub := &fakeTopicPublisher{}
	m := NewMQTTMirror(pub, "rentdesk/events/")

	require.NoError(t, m.Publish(context.Background(), domain.Event{Name: domain.EventPaymentFailed, Rooms: []string{domain.AdminRoom}}))
	assert.Equal(t, "rentdesk/events/payment:failed", pub.topic)

	var evt domain.Event
	require.NoError(t, json.Unmarshal(pub.payload, &evt))
	assert.Equal(t, domain.EventPaymentFailed, evt.Name)
}

func TestMulti_ContinuesPastFailingSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	m := NewMulti(zap.NewNop()).Add("mqtt", failing).Add("hub", ok).Add("none", nil)

	m.Publish(context.Background(), domain.Event{Name: domain.EventDashboardRefresh})
	assert.Equal(t, 1, failing.len())
	assert.Equal(t, 1, ok.len())
}
