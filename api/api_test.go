package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NethermindEth/nfaclaw-agent/api/handlers"
	"github.com/NethermindEth/nfaclaw-agent/auth"
	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/communication"
	"github.com/NethermindEth/nfaclaw-agent/gatekeeper"
	"github.com/NethermindEth/nfaclaw-agent/metrics"
	"github.com/NethermindEth/nfaclaw-agent/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	ipErr    error
	chatErr  error
	agentErr error
	lastIP   string
	lastReq  gatekeeper.ChatRequest
	deadline bool
}

func (f *fakeService) AllowIP(ctx context.Context, ip string) error {
	f.lastIP = ip
	return f.ipErr
}

func (f *fakeService) Chat(ctx context.Context, req gatekeeper.ChatRequest) (*gatekeeper.ChatResponse, error) {
	f.lastReq = req
	_, f.deadline = ctx.Deadline()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &gatekeeper.ChatResponse{
		Reply:       "gm",
		Model:       "test-model",
		ToolResults: gatekeeper.ToolResults{NFABalance: "1"},
	}, nil
}

func (f *fakeService) Agent(ctx context.Context, tokenID uint64) (*gatekeeper.AgentView, error) {
	if f.agentErr != nil {
		return nil, f.agentErr
	}
	return &gatekeeper.AgentView{TokenID: tokenID}, nil
}

type fakeCron struct {
	err   error
	calls int
}

func (f *fakeCron) Distribute(ctx context.Context, cfg chain.DistributeConfig) (*chain.DistributeReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &chain.DistributeReport{Skipped: true, Reason: "DISTRIBUTE_ENABLED=false"}, nil
}

func (f *fakeCron) Refill(ctx context.Context, cfg chain.RefillConfig) (*chain.RefillReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &chain.RefillReport{Skipped: true, Reason: "DEV_REFILL_ENABLED=false"}, nil
}

type recorder struct {
	events []string
}

func (r *recorder) Emit(eventType string, payload interface{}) {
	r.events = append(r.events, eventType)
}

type testAPI struct {
	router *gin.Engine
	svc    *fakeService
	cron   *fakeCron
	h      *handlers.Handler
	events *recorder
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := &fakeService{}
	cron := &fakeCron{}
	events := &recorder{}
	h := &handlers.Handler{
		Chat:              svc,
		Cron:              cron,
		CronSecret:        "s3cret",
		CronRuns:          storage.NewCronRepository(db),
		Events:            events,
		VerboseAuthErrors: true,
	}
	m := metrics.New()
	m.RegisterStore(db.Metrics)
	return &testAPI{
		router: NewRouter(h, m.Handler(), time.Minute, zap.NewNop()),
		svc:    svc,
		cron:   cron,
		h:      h,
		events: events,
	}
}

func (a *testAPI) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const chatBody = `{"tokenId":5,"walletAddress":"0xabababababababababababababababababababab","message":"hi","signature":"0x11","authMessage":"x","history":[{"role":"user","content":"a"}]}`

func TestChatOK(t *testing.T) {
	a := newTestAPI(t)
	w := a.do("POST", "/api/chat", chatBody, map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "gm", body["reply"])
	assert.Equal(t, false, body["fallback"])
	assert.Equal(t, "1", body["toolResults"].(map[string]interface{})["nfaBalance"])
	assert.Equal(t, "198.51.100.4", a.svc.lastIP)
	assert.Equal(t, uint64(5), a.svc.lastReq.TokenID)
	assert.Len(t, a.svc.lastReq.History, 1)
	assert.True(t, a.svc.deadline)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestChatBodyErrors(t *testing.T) {
	a := newTestAPI(t)

	w := a.do("POST", "/api/chat", `{"tokenId":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "invalid request body"}, decode(t, w))

	cases := map[string]string{
		`{"tokenId":"5"}`:          "invalid tokenId",
		`{"tokenId":1.5}`:          "invalid tokenId",
		`{"message":7}`:            "invalid message",
		`{"history":"nope"}`:       "invalid history",
		`{"history":[{"role":1}]}`: "invalid history item",
		`[1,2]`:                    "body must be an object",
	}
	for body, detail := range cases {
		w := a.do("POST", "/api/chat", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, map[string]interface{}{"error": "invalid request", "detail": detail}, decode(t, w), body)
	}
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		verbose bool
		status  int
		body    map[string]interface{}
	}{
		{"validation", &gatekeeper.ValidationError{Detail: "invalid message"}, true, 400,
			map[string]interface{}{"error": "invalid request", "detail": "invalid message"}},
		{"malformed auth", &auth.Error{Kind: auth.KindMalformed, Reason: auth.ReasonTooShort}, true, 400,
			map[string]interface{}{"error": "invalid authMessage", "detail": "authMessage too short"}},
		{"malformed auth quiet", &auth.Error{Kind: auth.KindMalformed, Reason: auth.ReasonTooShort}, false, 400,
			map[string]interface{}{"error": "invalid authMessage"}},
		{"expired", &auth.Error{Kind: auth.KindUnauthorized, Reason: auth.ReasonExpired}, true, 401,
			map[string]interface{}{"error": "auth expired"}},
		{"expired quiet", &auth.Error{Kind: auth.KindUnauthorized, Reason: auth.ReasonExpired}, false, 401,
			map[string]interface{}{"error": "unauthorized"}},
		{"not owner", &auth.Error{Kind: auth.KindForbidden, Reason: auth.ReasonOwnershipMismatch}, true, 403,
			map[string]interface{}{"error": "wallet does not own this NFA"}},
		{"upstream", &gatekeeper.UpstreamError{Op: "chat failed", Err: errors.New("rpc down")}, true, 500,
			map[string]interface{}{"error": "chat failed", "detail": "rpc down"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := newTestAPI(t)
			a.h.VerboseAuthErrors = c.verbose
			a.svc.chatErr = c.err
			w := a.do("POST", "/api/chat", chatBody, nil)
			assert.Equal(t, c.status, w.Code)
			assert.Equal(t, c.body, decode(t, w))
		})
	}
}

func TestChatRateLimited(t *testing.T) {
	a := newTestAPI(t)
	a.svc.ipErr = &gatekeeper.RateLimitError{Scope: "ip", RetryAfter: 42 * time.Second}
	w := a.do("POST", "/api/chat", chatBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Equal(t, map[string]interface{}{"error": "rate limit exceeded"}, decode(t, w))
	assert.Equal(t, "unknown", a.svc.lastIP)
	assert.Zero(t, a.svc.lastReq.TokenID)
}

func TestAgentEndpoint(t *testing.T) {
	a := newTestAPI(t)
	for _, id := range []string{"0", "-1", "abc", "9007199254740992"} {
		w := a.do("GET", "/api/agent/"+id, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		assert.Equal(t, map[string]interface{}{"error": "invalid tokenId"}, decode(t, w))
	}

	w := a.do("GET", "/api/agent/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), decode(t, w)["tokenId"])

	a.svc.agentErr = &gatekeeper.UpstreamError{Op: "failed to query agent", Err: chain.ErrNoContract}
	w = a.do("GET", "/api/agent/7", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to query agent", decode(t, w)["error"])
}

func TestCronAuth(t *testing.T) {
	a := newTestAPI(t)

	w := a.do("GET", "/api/cron/distribute", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": false, "error": "Unauthorized cron call"}, decode(t, w))

	w = a.do("GET", "/api/cron/distribute", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	a.h.CronSecret = ""
	w = a.do("GET", "/api/cron/distribute", "", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Missing env: CRON_SECRET", decode(t, w)["error"])
	assert.Zero(t, a.cron.calls)
}

func TestCronRunsAndHistory(t *testing.T) {
	a := newTestAPI(t)
	bearer := map[string]string{"Authorization": "Bearer s3cret"}

	w := a.do("GET", "/api/cron/distribute/last", "", bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do("GET", "/api/cron/distribute", "", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": false, "skipped": true, "reason": "DISTRIBUTE_ENABLED=false"}, decode(t, w))
	assert.Equal(t, []string{communication.EventCronCompleted}, a.events.events)

	w = a.do("GET", "/api/cron/distribute/last", "", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	run := decode(t, w)
	assert.Equal(t, "distribute", run["job"])
	assert.Equal(t, "DISTRIBUTE_ENABLED=false", run["report"].(map[string]interface{})["reason"])

	a.cron.err = errors.New("invalid dev refill private key: bad hex")
	w = a.do("GET", "/api/cron/dev-refill", "", bearer)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": false, "error": "invalid dev refill private key: bad hex"}, decode(t, w))

	w = a.do("GET", "/api/cron/dev-refill/last", "", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalid dev refill private key: bad hex", decode(t, w)["error"])

	w = a.do("GET", "/api/cron/other/last", "", bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	w := a.do("GET", "/healthz", "", map[string]string{RequestIDHeader: "req-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	w = a.do("GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
	assert.Contains(t, w.Body.String(), `nfaclaw_store_operations_total{op="put"}`)
}

func TestWebSocketStream(t *testing.T) {
	a := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws := communication.NewWSManager(nil)
	go ws.Run(ctx)
	a.h.WS = ws

	srv := httptest.NewServer(a.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ws.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	ws.Emit(communication.EventChatReply, map[string]interface{}{"tokenId": 5})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev communication.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, communication.EventChatReply, ev.Type)
}
