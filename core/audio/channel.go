package audio

import "sort"

// Channel 一个逻辑通道：同一时刻最多一个当前流，其余请求在按优先级排序的队列里
type Channel struct {
	name      string
	volume    float64
	priority  int
	crossfade bool

	current  *Request
	underlay []*Request // duck 策略压下去、仍在播放的流
	queue    []*Request
	muted    bool
	duckGain float64
	duckGen  uint64
}

func newChannel(cfg ChannelConfig) *Channel {
	return &Channel{
		name:      cfg.Name,
		volume:    cfg.Volume,
		priority:  cfg.Priority,
		crossfade: cfg.Crossfade,
		duckGain:  1,
	}
}

// enqueue 插入到同优先级请求之后，保持降序且稳定
func (c *Channel) enqueue(req *Request) {
	i := sort.Search(len(c.queue), func(i int) bool {
		return c.queue[i].Priority < req.Priority
	})
	c.queue = append(c.queue, nil)
	copy(c.queue[i+1:], c.queue[i:])
	c.queue[i] = req
}

func (c *Channel) dequeue() *Request {
	if len(c.queue) == 0 {
		return nil
	}
	req := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return req
}

func (c *Channel) removeQueued(req *Request) bool {
	for i, q := range c.queue {
		if q == req {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Channel) removeUnderlay(req *Request) bool {
	for i, u := range c.underlay {
		if u == req {
			c.underlay = append(c.underlay[:i], c.underlay[i+1:]...)
			return true
		}
	}
	return false
}

// streams 当前流和底层流
func (c *Channel) streams() []*Request {
	out := make([]*Request, 0, len(c.underlay)+1)
	if c.current != nil {
		out = append(out, c.current)
	}
	return append(out, c.underlay...)
}

// ChannelState 通道快照
type ChannelState struct {
	Name      string        `json:"name"`
	Volume    float64       `json:"volume"`
	Priority  int           `json:"priority"`
	Crossfade bool          `json:"crossfade"`
	Muted     bool          `json:"muted"`
	Ducked    bool          `json:"ducked"`
	DuckGain  float64       `json:"duckGain"`
	Current   *StreamState  `json:"current,omitempty"`
	Underlay  []StreamState `json:"underlay,omitempty"`
	Queue     []StreamState `json:"queue"`
}

func (c *Channel) snapshot() ChannelState {
	st := ChannelState{
		Name:      c.name,
		Volume:    c.volume,
		Priority:  c.priority,
		Crossfade: c.crossfade,
		Muted:     c.muted,
		Ducked:    c.duckGain < 1,
		DuckGain:  c.duckGain,
		Queue:     make([]StreamState, 0, len(c.queue)),
	}
	if c.current != nil {
		cur := c.current.snapshot()
		st.Current = &cur
	}
	for _, u := range c.underlay {
		st.Underlay = append(st.Underlay, u.snapshot())
	}
	for _, q := range c.queue {
		st.Queue = append(st.Queue, q.snapshot())
	}
	return st
}
