package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/core/scenario"
	"PhuzzyAudio/logger"

	"github.com/gorilla/mux"
)

// 后台序列的最长执行时间
const sequenceTimeout = 10 * time.Minute

type playRequest struct {
	specRequest
	optionsRequest
}

type playResponse struct {
	ID    string      `json:"id"`
	State audio.State `json:"state"`
	Key   string      `json:"key,omitempty"`
	Path  string      `json:"path,omitempty"`
}

func newPlayResponse(req *audio.Request) playResponse {
	return playResponse{ID: req.ID, State: req.State(), Key: req.Asset.Key, Path: req.Asset.Path}
}

// PlayHandler POST /api/play
func (h *APIHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	var body playRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	spec, err := body.toSpec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := body.toOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.engine.Play(r.Context(), spec, opts)
	if err != nil {
		if req != nil {
			writeJSON(w, statusForError(err), map[string]interface{}{"id": req.ID, "state": req.State(), "error": err.Error()})
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayResponse(req))
}

type sequenceRequest struct {
	Items []specRequest `json:"items"`
	optionsRequest
	GapMS *int `json:"gapMs,omitempty"`
	Wait  bool `json:"wait,omitempty"`
}

// SequenceHandler POST /api/sequence。wait=false 时立即返回 202，结果通过 WebSocket 推送。
func (h *APIHandler) SequenceHandler(w http.ResponseWriter, r *http.Request) {
	var body sequenceRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items is empty")
		return
	}
	specs := make([]asset.Spec, 0, len(body.Items))
	for i, item := range body.Items {
		spec, err := item.toSpec()
		if err != nil {
			writeError(w, http.StatusBadRequest, "item "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		specs = append(specs, spec)
	}
	playOpts, err := body.toOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := audio.SequenceOptions{PlayOptions: playOpts}
	if body.GapMS != nil {
		opts.Gap = time.Duration(*body.GapMS) * time.Millisecond
		if *body.GapMS == 0 {
			opts.Gap = -1
		}
	}

	if body.Wait {
		result, err := h.engine.PlaySequence(r.Context(), specs, opts)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// 序列在请求结束后继续播放
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sequenceTimeout)
		defer cancel()
		result, err := h.engine.PlaySequence(ctx, specs, opts)
		if err != nil {
			logger.Warn("序列播放失败", logger.Int("items", len(specs)), logger.ErrorField(err))
		}
		h.hub.BroadcastResult("sequence", result, err)
	}()
	writeJSON(w, http.StatusAccepted, map[string]int{"items": len(specs)})
}

type stopRequest struct {
	Target string `json:"target"`
	Fade   bool   `json:"fade,omitempty"`
}

// StopHandler POST /api/stop，target 为 all、通道名或流 ID
func (h *APIHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	var body stopRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Target == "" {
		body.Target = audio.StopAll
	}

	var err error
	if body.Fade && body.Target != audio.StopAll {
		err = h.engine.StopChannel(body.Target, true)
		if errors.Is(err, audio.ErrUnknownChannel) {
			err = h.engine.Stop(body.Target)
		}
	} else {
		err = h.engine.Stop(body.Target)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stopped": body.Target})
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

// VolumeHandler POST /api/volume 设置主音量
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	var body volumeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Volume < 0 || body.Volume > 1 {
		writeError(w, http.StatusBadRequest, "volume must be within 0..1")
		return
	}
	h.engine.SetMasterVolume(body.Volume)
	writeJSON(w, http.StatusOK, map[string]float64{"masterVolume": body.Volume})
}

type muteRequest struct {
	Muted    bool     `json:"muted"`
	Channels []string `json:"channels,omitempty"`
}

// MuteHandler POST /api/mute，channels 为空时作用于全局
func (h *APIHandler) MuteHandler(w http.ResponseWriter, r *http.Request) {
	var body muteRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetMuted(body.Muted, body.Channels...); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type channelRequest struct {
	Channel string `json:"channel"`
}

// DuckHandler POST /api/duck
func (h *APIHandler) DuckHandler(w http.ResponseWriter, r *http.Request) {
	h.rampChannel(w, r, h.engine.Duck)
}

// UnduckHandler POST /api/unduck
func (h *APIHandler) UnduckHandler(w http.ResponseWriter, r *http.Request) {
	h.rampChannel(w, r, h.engine.Unduck)
}

func (h *APIHandler) rampChannel(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	var body channelRequest
	if err := decodeJSON(w, r, &body); err != nil || body.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if err := fn(r.Context(), body.Channel); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type preloadRequest struct {
	Items []specRequest `json:"items"`
	Mode  string        `json:"mode,omitempty"`
	// Upcoming 不为 nil 时预加载该场景之后的 5 个场景
	Upcoming *int `json:"upcoming,omitempty"`
}

// PreloadHandler POST /api/preload
func (h *APIHandler) PreloadHandler(w http.ResponseWriter, r *http.Request) {
	var body preloadRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if body.Upcoming != nil {
		if h.integration == nil {
			writeError(w, http.StatusServiceUnavailable, "scenario integration disabled")
			return
		}
		h.integration.SetCurrentIndex(*body.Upcoming)
		recs, err := h.integration.PreloadUpcoming(r.Context(), *body.Upcoming)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"loaded": len(recs), "records": recs})
		return
	}

	mode := audio.PreloadMode(body.Mode)
	if mode == "" {
		mode = audio.ModeImmediate
	}
	if mode != audio.ModeImmediate && mode != audio.ModeBackground {
		writeError(w, http.StatusBadRequest, "mode must be immediate or background")
		return
	}
	specs := make([]asset.Spec, 0, len(body.Items))
	for i, item := range body.Items {
		spec, err := item.toSpec()
		if err != nil {
			writeError(w, http.StatusBadRequest, "item "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		specs = append(specs, spec)
	}

	recs, err := h.engine.Preload(r.Context(), specs, mode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if mode == audio.ModeBackground {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]interface{}{"requested": len(specs), "loaded": len(recs), "records": recs})
}

// PreloadStatusHandler GET /api/preload/status
func (h *APIHandler) PreloadStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.PreloadStatus())
}

type interactionRequest struct {
	Event string `json:"event"`
}

// InteractionHandler POST /api/interaction，客户端的第一次交互从这里进入
func (h *APIHandler) InteractionHandler(w http.ResponseWriter, r *http.Request) {
	var body interactionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Event == "" {
		body.Event = "click"
	}
	n := h.bus.Dispatch(body.Event)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event":     body.Event,
		"listeners": n,
		"warmup":    h.engine.Warmup().State(),
	})
}

// UISoundHandler POST /api/ui/{name}
func (h *APIHandler) UISoundHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := audio.UITones[name]; !ok {
		writeError(w, http.StatusNotFound, "unknown ui sound "+name)
		return
	}
	req, err := h.engine.PlayUISound(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayResponse(req))
}

type scenarioPlayRequest struct {
	Title string `json:"title"`
	// ContentType 为空时按 标题 -> 正文 -> 结论 播放整个场景
	ContentType string `json:"contentType,omitempty"`
	ScenarioID  *int   `json:"scenarioId,omitempty"`
	PackID      *int   `json:"packId,omitempty"`
	Wait        bool   `json:"wait,omitempty"`
}

// ScenarioPlayHandler POST /api/scenario/play
func (h *APIHandler) ScenarioPlayHandler(w http.ResponseWriter, r *http.Request) {
	if h.integration == nil {
		writeError(w, http.StatusServiceUnavailable, "scenario integration disabled")
		return
	}
	var body scenarioPlayRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if body.ContentType != "" {
		ref := scenario.Ref{ScenarioID: scenario.NoID, PackID: scenario.NoID, Title: body.Title}
		if body.ScenarioID != nil {
			ref.ScenarioID = *body.ScenarioID
		}
		if body.PackID != nil {
			ref.PackID = *body.PackID
		}
		req, err := h.integration.Play(r.Context(), ref, body.ContentType)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newPlayResponse(req))
		return
	}

	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if body.Wait {
		result, err := h.integration.PlayScenario(r.Context(), body.Title, audio.SequenceOptions{})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	if m, ok := h.integration.Mapping(body.Title); !ok || !m.HasAudio {
		h.fail(w, r, scenario.ErrNoAudio)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sequenceTimeout)
		defer cancel()
		result, err := h.integration.PlayScenario(ctx, body.Title, audio.SequenceOptions{})
		h.hub.BroadcastResult("scenario", result, err)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"title": body.Title})
}

type ambientRequest struct {
	Name string `json:"name"`
}

// AmbientHandler POST /api/ambient
func (h *APIHandler) AmbientHandler(w http.ResponseWriter, r *http.Request) {
	if h.integration == nil {
		writeError(w, http.StatusServiceUnavailable, "scenario integration disabled")
		return
	}
	var body ambientRequest
	if err := decodeJSON(w, r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	req, err := h.integration.PlayAmbient(r.Context(), body.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayResponse(req))
}

// StateHandler GET /api/state
func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State())
}

// DebugHandler GET /api/debug
func (h *APIHandler) DebugHandler(w http.ResponseWriter, r *http.Request) {
	if h.integration == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"engineState": h.engine.State()})
		return
	}
	writeJSON(w, http.StatusOK, h.integration.DebugInfo())
}

// HistoryHandler GET /api/history?channel=&limit=
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "playback history disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be within 1..500")
			return
		}
		limit = n
	}
	records, err := h.history.Recent(r.Context(), r.URL.Query().Get("channel"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HistoryStatsHandler GET /api/history/stats 按资源统计播放次数
func (h *APIHandler) HistoryStatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "playback history disabled")
		return
	}
	counts, err := h.history.CountByAsset(r.Context(), 20)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
