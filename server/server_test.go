package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PhuzzyAudio/config"
	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/core/auth"
	"PhuzzyAudio/core/scenario"
	"PhuzzyAudio/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type fakeHistory struct {
	channel string
	limit   int
}

func (f *fakeHistory) Create(ctx context.Context, rec *model.PlaybackRecord) error { return nil }

func (f *fakeHistory) Recent(ctx context.Context, channel string, limit int) ([]*model.PlaybackRecord, error) {
	f.channel, f.limit = channel, limit
	return []*model.PlaybackRecord{{RequestID: "r1", Channel: channel}}, nil
}

func (f *fakeHistory) CountByAsset(ctx context.Context, limit int) ([]model.AssetPlayCount, error) {
	return []model.AssetPlayCount{{AssetKey: "000-000-title", Count: 3}}, nil
}

type testServer struct {
	router *mux.Router
	hub    *Hub
	engine *audio.Engine
	bus    *audio.InteractionBus
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *testServer {
	t.Helper()
	engineCfg := audio.DefaultConfig()
	engineCfg.PrimeDuration = 0
	engineCfg.SilentPrewarmDuration = 0

	registry := asset.NewRegistry("/voices")
	registry.Discover([]string{"000"})
	resolver := asset.NewResolver(registry, asset.NewTitleIndex(), nil)

	engine := audio.New(engineCfg, resolver, audio.WithBackend(audio.NewNullBackend(nil)))
	bus := audio.NewInteractionBus()
	engine.Warmup().Arm(bus)
	t.Cleanup(func() { _ = engine.Close() })

	if cfg == nil {
		cfg = &config.Config{AdminUsername: "admin", JWTExpiry: time.Hour}
	}
	deps.Engine = engine
	deps.Bus = bus
	router, hub := NewRouter(cfg, deps)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return &testServer{router: router, hub: hub, engine: engine, bus: bus}
}

func (s *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) ready(t *testing.T) {
	t.Helper()
	if rr := s.do(http.MethodPost, "/api/interaction", `{"event":"click"}`); rr.Code != http.StatusOK {
		t.Fatalf("interaction: %d %s", rr.Code, rr.Body)
	}
	if err := s.engine.Warmup().EnsureReady(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	rr := s.do(http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
	if rr := s.do(http.MethodOptions, "/api/play", ""); rr.Code != http.StatusOK {
		t.Errorf("preflight = %d", rr.Code)
	}
}

func TestPlayBeforeInteraction(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	rr := s.do(http.MethodPost, "/api/play", `{"path":"hello.mp3"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", rr.Code, rr.Body)
	}
}

func TestInteractionThenPlay(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rr := s.do(http.MethodPost, "/api/interaction", "")
	var ia map[string]interface{}
	decode(t, rr, &ia)
	if ia["event"] != "click" || ia["listeners"] != float64(1) {
		t.Errorf("interaction = %v", ia)
	}
	if err := s.engine.Warmup().EnsureReady(context.Background()); err != nil {
		t.Fatal(err)
	}

	rr = s.do(http.MethodPost, "/api/play", `{"path":"hello.mp3","channel":"effects"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("play = %d %s", rr.Code, rr.Body)
	}
	var pr playResponse
	decode(t, rr, &pr)
	if pr.State != audio.StatePlaying || pr.Path != "hello.mp3" {
		t.Errorf("play response = %+v", pr)
	}

	rr = s.do(http.MethodGet, "/api/state", "")
	var st audio.EngineState
	decode(t, rr, &st)
	if len(st.ActiveStreams) != 1 || st.ActiveStreams[0] != pr.ID {
		t.Errorf("active = %v", st.ActiveStreams)
	}

	if rr := s.do(http.MethodPost, "/api/stop", `{"target":"`+pr.ID+`"}`); rr.Code != http.StatusOK {
		t.Errorf("stop = %d %s", rr.Code, rr.Body)
	}
	if rr := s.do(http.MethodPost, "/api/stop", `{"target":"req-missing"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown stop = %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/api/stop", ""); rr.Code != http.StatusOK {
		t.Errorf("stop all = %d", rr.Code)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	s.ready(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid json", "/api/play", `{`, http.StatusBadRequest},
		{"no spec", "/api/play", `{"channel":"ui"}`, http.StatusBadRequest},
		{"bad policy", "/api/play", `{"path":"a.mp3","policy":"loud"}`, http.StatusBadRequest},
		{"bad volume", "/api/play", `{"path":"a.mp3","volume":2}`, http.StatusBadRequest},
		{"unknown channel", "/api/play", `{"path":"a.mp3","channel":"radio"}`, http.StatusBadRequest},
		{"empty sequence", "/api/sequence", `{"items":[]}`, http.StatusBadRequest},
		{"bad sequence item", "/api/sequence", `{"items":[{"part":"title"}]}`, http.StatusBadRequest},
		{"master volume", "/api/volume", `{"volume":1.5}`, http.StatusBadRequest},
		{"mute unknown", "/api/mute", `{"muted":true,"channels":["radio"]}`, http.StatusBadRequest},
		{"duck without channel", "/api/duck", `{}`, http.StatusBadRequest},
		{"preload mode", "/api/preload", `{"mode":"eager"}`, http.StatusBadRequest},
		{"unknown ui", "/api/ui/fanfare", ``, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := s.do(http.MethodPost, tt.path, tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body)
			}
		})
	}
}

func TestMixerEndpoints(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	s.ready(t)

	if rr := s.do(http.MethodPost, "/api/volume", `{"volume":0.25}`); rr.Code != http.StatusOK {
		t.Fatalf("volume = %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/api/mute", `{"muted":true,"channels":["music"]}`); rr.Code != http.StatusOK {
		t.Fatalf("mute = %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/api/duck", `{"channel":"dialogue"}`); rr.Code != http.StatusOK {
		t.Fatalf("duck = %d", rr.Code)
	}

	st := s.engine.State()
	if st.MasterVolume != 0.25 {
		t.Errorf("master = %v", st.MasterVolume)
	}
	for _, ch := range st.Channels {
		if ch.Name == audio.ChannelMusic && !ch.Muted {
			t.Error("music not muted")
		}
		if ch.Name == audio.ChannelDialogue && !ch.Ducked {
			t.Error("dialogue not ducked")
		}
	}

	if rr := s.do(http.MethodPost, "/api/unduck", `{"channel":"dialogue"}`); rr.Code != http.StatusOK {
		t.Fatalf("unduck = %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/api/ui/button", ""); rr.Code != http.StatusOK {
		t.Errorf("ui = %d %s", rr.Code, rr.Body)
	}
}

func TestSequenceAndPreload(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	s.ready(t)

	rr := s.do(http.MethodPost, "/api/sequence", `{"items":[{"path":"a.mp3"},{"path":"b.mp3"}],"gapMs":0}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("sequence = %d %s", rr.Code, rr.Body)
	}

	rr = s.do(http.MethodPost, "/api/preload", `{"items":[{"pack":0,"scenario":1,"part":"title"},{"path":"c.mp3"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("preload = %d %s", rr.Code, rr.Body)
	}
	var out map[string]interface{}
	decode(t, rr, &out)
	if out["requested"] != float64(2) || out["loaded"] != float64(2) {
		t.Errorf("preload = %v", out)
	}

	rr = s.do(http.MethodPost, "/api/preload", `{"items":[{"path":"d.mp3"}],"mode":"background"}`)
	if rr.Code != http.StatusAccepted {
		t.Errorf("background preload = %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/api/preload/status", ""); rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestOptionalFeaturesDisabled(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/scenario/play", `{"title":"x"}`},
		{http.MethodPost, "/api/ambient", `{"name":"rain"}`},
		{http.MethodPost, "/api/preload", `{"upcoming":0}`},
		{http.MethodGet, "/api/history", ""},
		{http.MethodGet, "/api/history/stats", ""},
		{http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`},
	}
	for _, tt := range tests {
		if rr := s.do(tt.method, tt.path, tt.body); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", tt.method, tt.path, rr.Code)
		}
	}
	if rr := s.do(http.MethodGet, "/api/debug", ""); rr.Code != http.StatusOK {
		t.Errorf("debug = %d", rr.Code)
	}
}

func TestScenarioEndpoints(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	in := scenario.NewIntegration(s.engine, nil, scenario.WithAmbientDir("/voices/ambient"))
	in.BuildMappings(context.Background(), nil)
	s.router, s.hub = NewRouter(&config.Config{}, Deps{Engine: s.engine, Bus: s.bus, Integration: in})
	go s.hub.Run()
	t.Cleanup(s.hub.Stop)
	s.ready(t)

	rr := s.do(http.MethodPost, "/api/scenario/play", `{"title":"My Own Boss Blues","contentType":"title"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("scenario part = %d %s", rr.Code, rr.Body)
	}
	var pr playResponse
	decode(t, rr, &pr)
	if pr.Key != "000-000-title" {
		t.Errorf("key = %s", pr.Key)
	}

	if rr := s.do(http.MethodPost, "/api/scenario/play", `{"title":"Balanced Climate Report"}`); rr.Code != http.StatusAccepted {
		t.Errorf("scenario = %d %s", rr.Code, rr.Body)
	}
	if rr := s.do(http.MethodPost, "/api/scenario/play", `{"title":"Nobody"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown scenario = %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/api/scenario/play", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing title = %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/api/ambient", `{"name":"rain"}`); rr.Code != http.StatusOK {
		t.Errorf("ambient = %d %s", rr.Code, rr.Body)
	}
	if rr := s.do(http.MethodPost, "/api/preload", `{"upcoming":0}`); rr.Code != http.StatusOK {
		t.Errorf("upcoming = %d %s", rr.Code, rr.Body)
	}

	rr = s.do(http.MethodGet, "/api/debug", "")
	var info scenario.DebugInfo
	decode(t, rr, &info)
	if info.Mappings != 5 || info.Index != 0 {
		t.Errorf("debug = %+v", info)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	hist := &fakeHistory{}
	s := newTestServer(t, nil, Deps{History: hist})

	rr := s.do(http.MethodGet, "/api/history?channel=dialogue&limit=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history = %d", rr.Code)
	}
	if hist.channel != "dialogue" || hist.limit != 10 {
		t.Errorf("query = %s/%d", hist.channel, hist.limit)
	}
	for _, q := range []string{"0", "501", "ten"} {
		if rr := s.do(http.MethodGet, "/api/history?limit="+q, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: %d", q, rr.Code)
		}
	}

	rr = s.do(http.MethodGet, "/api/history/stats", "")
	var counts []model.AssetPlayCount
	decode(t, rr, &counts)
	if len(counts) != 1 || counts[0].Count != 3 {
		t.Errorf("stats = %+v", counts)
	}
}

func TestAuth(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiry:         time.Hour,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
	}
	s := newTestServer(t, cfg, Deps{Signer: auth.NewSigner(cfg.JWTSecret, cfg.JWTExpiry)})

	if rr := s.do(http.MethodGet, "/api/state", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/api/state", "", "Authorization", "Token abc"); rr.Code != http.StatusUnauthorized {
		t.Errorf("bad scheme = %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/api/state", "", "Authorization", "Bearer abc"); rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", rr.Code)
	}
	// 交互事件不需要令牌
	if rr := s.do(http.MethodPost, "/api/interaction", ""); rr.Code != http.StatusOK {
		t.Errorf("interaction = %d", rr.Code)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"username":"admin","password":"wrong"}`, http.StatusUnauthorized},
		{`{"username":"root","password":"s3cret"}`, http.StatusUnauthorized},
		{`{"username":"admin"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rr := s.do(http.MethodPost, "/api/auth/login", tt.body); rr.Code != tt.want {
			t.Errorf("login %s = %d, want %d", tt.body, rr.Code, tt.want)
		}
	}

	rr := s.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"s3cret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rr.Code, rr.Body)
	}
	var login struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	decode(t, rr, &login)
	if login.Token == "" || login.ExpiresIn != 3600 {
		t.Fatalf("login = %+v", login)
	}

	if rr := s.do(http.MethodGet, "/api/state", "", "Authorization", "Bearer "+login.Token); rr.Code != http.StatusOK {
		t.Errorf("with token = %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/api/state?token="+login.Token, ""); rr.Code != http.StatusOK {
		t.Errorf("query token = %d", rr.Code)
	}
}

func TestUsernameFromContext(t *testing.T) {
	if _, err := GetUsernameFromContext(context.Background()); err == nil {
		t.Error("empty context should fail")
	}
	ctx := context.WithValue(context.Background(), usernameKey, "admin")
	if name, err := GetUsernameFromContext(ctx); err != nil || name != "admin" {
		t.Errorf("username = %q, %v", name, err)
	}
}

func TestOptionsExplicitZero(t *testing.T) {
	var o optionsRequest
	if err := json.Unmarshal([]byte(`{"volume":0,"priority":0,"crossfade":true}`), &o); err != nil {
		t.Fatal(err)
	}
	opts, err := o.toOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Volume == nil || *opts.Volume != 0 || opts.Priority == nil || *opts.Priority != 0 || !opts.Crossfade {
		t.Errorf("options = %+v", opts)
	}

	opts, _ = optionsRequest{}.toOptions()
	if opts.Volume != nil || opts.Priority != nil {
		t.Errorf("omitted fields should stay unset: %+v", opts)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{audio.ErrAudioNotReady, http.StatusConflict},
		{audio.ErrUnknownChannel, http.StatusBadRequest},
		{errBadSpec, http.StatusBadRequest},
		{audio.ErrStreamNotFound, http.StatusNotFound},
		{&asset.ResolutionError{Err: asset.ErrAssetNotFound}, http.StatusNotFound},
		{scenario.ErrNoAudio, http.StatusNotFound},
		{audio.ErrEngineClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	unsubscribe := s.engine.Subscribe(s.hub.HandleEvent)
	defer unsubscribe()

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func(wantType string) WSMessage {
		t.Helper()
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read %s: %v", wantType, err)
			}
			if msg.Type == wantType {
				return msg
			}
		}
	}

	var st audio.EngineState
	if err := json.Unmarshal(read(MsgTypeState).Data, &st); err != nil || len(st.Channels) != 6 {
		t.Fatalf("state snapshot = %+v, %v", st, err)
	}

	if err := conn.WriteJSON(WSMessage{Type: MsgTypePing}); err != nil {
		t.Fatal(err)
	}
	read(MsgTypePong)

	if err := conn.WriteJSON(WSMessage{Type: "shout"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(MsgTypeError); msg.Error == "" {
		t.Error("unknown type should produce an error message")
	}

	// 客户端上报的交互触发预热，预热事件推送回来
	if err := conn.WriteJSON(WSMessage{Type: MsgTypeInteraction, Event: "keydown"}); err != nil {
		t.Fatal(err)
	}
	for {
		msg := read(MsgTypeEvent)
		if msg.Event == string(audio.EventWarmedUp) {
			break
		}
	}
	if s.hub.ClientCount() != 1 {
		t.Errorf("clients = %d", s.hub.ClientCount())
	}

	s.hub.BroadcastResult("sequence", audio.SequenceResult{ID: "seq-1"}, errors.New("cut short"))
	if msg := read(MsgTypeResult); msg.Event != "sequence" || msg.Error != "cut short" {
		t.Errorf("result = %+v", msg)
	}
}
