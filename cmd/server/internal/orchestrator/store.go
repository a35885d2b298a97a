package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// errJobTerminal 终态作业拒绝任何写入
	errJobTerminal = errors.New("job is in a terminal state")
	// errInvalidTransition 状态迁移不在允许表中
	errInvalidTransition = errors.New("invalid status transition")
)

// JobStore 线程安全的作业表。读取返回副本，写入以字段组为单位在锁内原子完成，
// 并发读永远不会看到写了一半的记录。
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewJobStore 创建空作业表
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job), now: time.Now}
}

// Insert 新增或覆盖一条记录
func (s *JobStore) Insert(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := j
	s.jobs[j.ID] = &cp
}

// Get 返回作业快照
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List 按创建时间倒序返回全部作业快照
func (s *JobStore) List() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	return out
}

// Len 作业数量
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Update 在写锁内对副本执行 fn，校验状态迁移后整体提交。
// fn 返回错误时不提交任何修改。
func (s *JobStore) Update(id string, fn func(j *Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return Job{}, NewNotFoundError(id)
	}
	if cur.Status.IsTerminal() {
		return *cur, errJobTerminal
	}

	next := *cur
	if err := fn(&next); err != nil {
		return *cur, err
	}
	if next.Status != cur.Status && !validTransition(cur.Status, next.Status) {
		return *cur, fmt.Errorf("%w: %s -> %s", errInvalidTransition, cur.Status, next.Status)
	}
	next.UpdatedAt = s.now()
	next.Version = cur.Version + 1
	*cur = next
	return next, nil
}

// Remove 删除记录并返回被删除的快照
func (s *JobStore) Remove(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	delete(s.jobs, id)
	return *j, true
}

// QueuePosition 在排队作业中按创建时间先后的名次（从 1 开始），非排队返回 0
func (s *JobStore) QueuePosition(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.jobs[id]
	if !ok || target.Status != StatusQueued {
		return 0
	}
	pos := 1
	for _, j := range s.jobs {
		if j.ID == id || j.Status != StatusQueued {
			continue
		}
		if j.CreatedAt.Before(target.CreatedAt) || (j.CreatedAt.Equal(target.CreatedAt) && j.ID < target.ID) {
			pos++
		}
	}
	return pos
}
