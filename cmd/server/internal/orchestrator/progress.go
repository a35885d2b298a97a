package orchestrator

import (
	"sync"
)

// band 把阶段内 0..1 的进度映射到全局百分比区间
type band struct {
	from, to float64
}

func (b band) scale(fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return b.from + fraction*(b.to-b.from)
}

// 各阶段进度区间。独唱：下载 0-20，转写 20-100；
// 合唱：下载 0-20，分离 20-40，歌手一 40-65，歌手二 65-90，生成 90-100。
var (
	bandAcquire  = band{0, 20}
	bandSolo     = band{20, 100}
	bandSpeaker1 = band{40, 65}
	bandSpeaker2 = band{65, 90}
)

const (
	pctDiarize    = 20.0
	pctAnalysed   = 25.0
	pctSplitting  = 30.0
	pctSplit      = 35.0
	pctMerging    = 90.0
	pctFinalizing = 95.0
	pctComplete   = 100.0

	defaultSubsBuf = 64
)

// Subscription 单个订阅者的进度通道。作业到达终态或订阅者过慢被剔除时通道关闭。
type Subscription struct {
	jobID string
	ch    chan ProgressEvent
	hub   *progressHub
}

// Events 返回只读事件通道
func (s *Subscription) Events() <-chan ProgressEvent { return s.ch }

// JobID 订阅的作业
func (s *Subscription) JobID() string { return s.jobID }

// Close 取消订阅，可重复调用
func (s *Subscription) Close() { s.hub.remove(s) }

// progressHub 按作业分发进度事件。投递失败（缓冲区满）只剔除该订阅者，
// 不阻塞流水线，也不影响其他订阅者。
type progressHub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func newProgressHub(buffer int) *progressHub {
	if buffer <= 0 {
		buffer = defaultSubsBuf
	}
	return &progressHub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// subscribe 在 hub 锁内读取当前快照并作为首个事件投递，
// 保证与并发 publish 的先后顺序一致。
func (h *progressHub) subscribe(jobID string, snapshot func() (ProgressEvent, bool)) (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev, ok := snapshot()
	if !ok {
		return nil, false
	}
	sub := &Subscription{jobID: jobID, ch: make(chan ProgressEvent, h.buffer), hub: h}
	sub.ch <- ev
	if ev.Status.IsTerminal() {
		close(sub.ch)
		return sub, true
	}
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Subscription]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	return sub, true
}

// publish 非阻塞投递；终态事件投递后关闭该作业全部订阅
func (h *progressHub) publish(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[ev.JobID]
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			delete(set, sub)
			close(sub.ch)
		}
	}
	if ev.Status.IsTerminal() {
		h.closeLocked(ev.JobID)
	}
}

// drop 关闭作业的全部订阅（删除作业时使用）
func (h *progressHub) drop(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(jobID)
}

func (h *progressHub) closeLocked(jobID string) {
	for sub := range h.subs[jobID] {
		close(sub.ch)
	}
	delete(h.subs, jobID)
}

func (h *progressHub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.jobID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, sub.jobID)
	}
}

// count 当前订阅数（测试与指标使用）
func (h *progressHub) count(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
