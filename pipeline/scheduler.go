// Package pipeline 实现离线流水线的编排：单槽位调度 + 五阶段串联执行。
package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rushteam/shoprec/core"
)

// RunToken 是一次流水线运行的显式凭据。
// 全进程同一时刻至多一个 token 处于活跃状态；持有者在结束时必须 Release。
type RunToken struct {
	ID        string
	StartedAt time.Time

	sched *Scheduler
	once  sync.Once
}

// Release 归还槽位并留存本次运行的最终结果供轮询。幂等。
func (t *RunToken) Release(outcome core.Outcome) {
	t.once.Do(func() {
		t.sched.release(t.ID, outcome)
	})
}

// Scheduler 是单槽位调度器：用显式 token 取代全局布尔标志。
// Acquire 原子地占用槽位，占用中再次 Acquire 立即失败而不是排队。
type Scheduler struct {
	mu          sync.Mutex
	active      *RunToken
	lastOutcome *core.Outcome
	lastRunID   string
	lastEndedAt time.Time
}

func NewScheduler() *Scheduler { return &Scheduler{} }

// Acquire 尝试占用运行槽位。已有运行在途时返回 RUN_ACTIVE 错误。
func (s *Scheduler) Acquire() (*RunToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, core.NewDomainError(core.ModulePipeline, core.ErrorCodeRunActive,
			"已有任务正在运行中")
	}
	token := &RunToken{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		sched:     s,
	}
	s.active = token
	return token, nil
}

func (s *Scheduler) release(runID string, outcome core.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ID != runID {
		return
	}
	s.active = nil
	s.lastOutcome = &outcome
	s.lastRunID = runID
	s.lastEndedAt = time.Now()
}

// Status 是调度器的只读快照。
type Status struct {
	Running     bool          `json:"running"`
	RunID       string        `json:"run_id,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	LastRunID   string        `json:"last_run_id,omitempty"`
	LastOutcome *core.Outcome `json:"last_outcome,omitempty"`
	LastEndedAt time.Time     `json:"last_ended_at,omitempty"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		LastRunID:   s.lastRunID,
		LastOutcome: s.lastOutcome,
		LastEndedAt: s.lastEndedAt,
	}
	if s.active != nil {
		st.Running = true
		st.RunID = s.active.ID
		st.StartedAt = s.active.StartedAt
	}
	return st
}
