package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"PhuzzyAudio/config"
	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/core/auth"
	"PhuzzyAudio/core/scenario"
	"PhuzzyAudio/logger"
	"PhuzzyAudio/repository"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	engine      *audio.Engine
	integration *scenario.Integration
	bus         *audio.InteractionBus
	signer      *auth.Signer
	history     repository.PlaybackRepository
	hub         *Hub
	cfg         *config.Config
}

// NewAPIHandler 创建新的API处理器。integration、signer、history 可以为 nil。
func NewAPIHandler(deps Deps, hub *Hub, cfg *config.Config) *APIHandler {
	return &APIHandler{
		engine:      deps.Engine,
		integration: deps.Integration,
		bus:         deps.Bus,
		signer:      deps.Signer,
		history:     deps.History,
		hub:         hub,
		cfg:         cfg,
	}
}

// specRequest 请求体中描述音频的部分，三种写法任选其一：
// path（直接路径或注册表 key）、pack+scenario、title
type specRequest struct {
	Path     string `json:"path,omitempty"`
	Pack     *int   `json:"pack,omitempty"`
	Scenario *int   `json:"scenario,omitempty"`
	Title    string `json:"title,omitempty"`
	Part     string `json:"part,omitempty"`
}

var errBadSpec = errors.New("need one of path, pack+scenario or title")

func (s specRequest) toSpec() (asset.Spec, error) {
	part := asset.Part(s.Part)
	switch {
	case s.Path != "":
		return asset.Path(s.Path), nil
	case s.Pack != nil && s.Scenario != nil:
		return asset.PackN(*s.Pack, *s.Scenario, part), nil
	case s.Title != "":
		return asset.Title(s.Title, part), nil
	}
	return asset.Spec{}, errBadSpec
}

type optionsRequest struct {
	Channel   string   `json:"channel,omitempty"`
	Priority  *int     `json:"priority,omitempty"`
	Policy    string   `json:"policy,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	FadeIn    bool     `json:"fadeIn,omitempty"`
	Loop      bool     `json:"loop,omitempty"`
	Crossfade bool     `json:"crossfade,omitempty"`
}

func (o optionsRequest) toOptions() (audio.PlayOptions, error) {
	opts := audio.PlayOptions{
		Channel:   o.Channel,
		Priority:  o.Priority,
		Policy:    audio.Policy(o.Policy),
		Volume:    o.Volume,
		FadeIn:    o.FadeIn,
		Loop:      o.Loop,
		Crossfade: o.Crossfade,
	}
	if opts.Policy != "" && !opts.Policy.Valid() {
		return opts, errors.New("unknown policy " + o.Policy)
	}
	if o.Volume != nil && (*o.Volume < 0 || *o.Volume > 1) {
		return opts, errors.New("volume must be within 0..1")
	}
	return opts, nil
}

// decodeJSON 空请求体按零值处理
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError 引擎错误对应的 HTTP 状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, audio.ErrAudioNotReady):
		return http.StatusConflict
	case errors.Is(err, audio.ErrUnknownChannel), errors.Is(err, errBadSpec):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrStreamNotFound),
		errors.Is(err, asset.ErrAssetNotFound),
		errors.Is(err, scenario.ErrNoAudio):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrEngineClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败", logger.String("path", r.URL.Path), logger.ErrorField(err))
	}
	writeError(w, status, err.Error())
}
