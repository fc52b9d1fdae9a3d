// Package task is the multi-queue background scheduler: three FIFO queues
// with one worker each, pausable/resumable/abortable tasks, rate-limit
// back-off via a paused-task table, and crash recovery from persisted
// history rows.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/ratelimit"
)

// Completion texts surfaced to clients; these spellings are part of the API.
const (
	msgCompleted     = "任务成功完成"
	msgRestart       = "服务重启"
	msgUserCancelled = "任务已被用户取消"
	msgUnrecoverable = "无法恢复而取消"
)

// ErrTaskConflict is returned when a duplicate submission is rejected.
var ErrTaskConflict = errors.New("task already in progress")

// ErrTaskNotFound is returned for operations on unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

const queueCapacity = 256
const progressDebounce = 500 * time.Millisecond

// ProgressFunc reports task progress. It blocks while the task is paused
// and returns the context error once the task is aborted; bodies are
// expected to call it frequently and bail out on error.
type ProgressFunc func(ctx context.Context, progress int, description string) error

// Body is one task's work. It must honor ctx and route all visible state
// through progress.
type Body func(ctx context.Context, progress ProgressFunc) Result

// Spec describes one submission.
type Spec struct {
	Title     string
	Queue     models.QueueType
	Body      Body
	UniqueKey string
	// TaskType + Parameters make a task replayable after a restart.
	TaskType   string
	Parameters any
	// Provider lets the worker park the task while that provider is in a
	// rate-limit cooldown.
	Provider string
	// RunImmediately bypasses the queue.
	RunImmediately bool
}

type queuedTask struct {
	id       string
	title    string
	queue    models.QueueType
	unique   string
	provider string
	body     Body
}

type pausedEntry struct {
	task     *queuedTask
	resumeAt time.Time
}

type runningEntry struct {
	cancel context.CancelFunc
	gate   *gate
}

// Manager owns the queues and the live task tables.
type Manager struct {
	repo    *database.TaskRepository
	limiter ratelimit.Limiter

	queues map[models.QueueType]chan *queuedTask

	mu             sync.Mutex
	pendingTitles  map[string]string // title -> task id
	activeUniques  map[string]string // unique key -> task id
	paused         map[string]*pausedEntry
	limitedUntil   map[string]time.Time // provider -> cooldown expiry
	running        map[string]*runningEntry
	cancelledQueue map[string]struct{} // pending ids cancelled before pickup
	done           map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(repo *database.TaskRepository, limiter ratelimit.Limiter) *Manager {
	return &Manager{
		repo:    repo,
		limiter: limiter,
		queues: map[models.QueueType]chan *queuedTask{
			models.QueueDownload:   make(chan *queuedTask, queueCapacity),
			models.QueueManagement: make(chan *queuedTask, queueCapacity),
			models.QueueFallback:   make(chan *queuedTask, queueCapacity),
		},
		pendingTitles:  make(map[string]string),
		activeUniques:  make(map[string]string),
		paused:         make(map[string]*pausedEntry),
		limitedUntil:   make(map[string]time.Time),
		running:        make(map[string]*runningEntry),
		cancelledQueue: make(map[string]struct{}),
		done:           make(map[string]chan struct{}),
	}
}

// Start launches the three workers and the paused-task monitor.
func (m *Manager) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for queue, ch := range m.queues {
		m.wg.Add(1)
		go m.worker(queue, ch)
	}
	m.wg.Add(1)
	go m.pausedMonitor()
	log.Printf("[task] manager started with %d queues", len(m.queues))
}

// Stop cancels everything and waits for the workers to drain.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	log.Printf("[task] manager stopped")
}

// Submit enqueues a task. Dedup: an active unique key or an active title is
// a Conflict. Returns the task id and a channel closed on termination.
func (m *Manager) Submit(spec Spec) (string, <-chan struct{}, error) {
	if spec.Body == nil {
		return "", nil, errors.New("task body required")
	}
	if spec.Queue == "" {
		spec.Queue = models.QueueManagement
	}
	ch, ok := m.queues[spec.Queue]
	if !ok {
		return "", nil, fmt.Errorf("unknown queue %q", spec.Queue)
	}

	var params string
	if spec.Parameters != nil {
		data, err := json.Marshal(spec.Parameters)
		if err != nil {
			return "", nil, fmt.Errorf("encode task parameters: %w", err)
		}
		params = string(data)
	}

	m.mu.Lock()
	if spec.UniqueKey != "" {
		if _, active := m.activeUniques[spec.UniqueKey]; active {
			m.mu.Unlock()
			return "", nil, fmt.Errorf("%w: %s", ErrTaskConflict, spec.UniqueKey)
		}
	}
	if _, active := m.pendingTitles[spec.Title]; active {
		m.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrTaskConflict, spec.Title)
	}

	id := uuid.NewString()
	t := &queuedTask{
		id:       id,
		title:    spec.Title,
		queue:    spec.Queue,
		unique:   spec.UniqueKey,
		provider: spec.Provider,
		body:     spec.Body,
	}
	doneCh := make(chan struct{})
	m.done[id] = doneCh
	m.pendingTitles[spec.Title] = id
	if spec.UniqueKey != "" {
		m.activeUniques[spec.UniqueKey] = id
	}
	m.mu.Unlock()

	record := &models.TaskRecord{
		TaskID:     id,
		Title:      spec.Title,
		Status:     models.TaskStatusPending,
		QueueType:  spec.Queue,
		UniqueKey:  spec.UniqueKey,
		TaskType:   spec.TaskType,
		Parameters: params,
	}
	if err := m.repo.Insert(record); err != nil {
		m.release(t)
		return "", nil, err
	}

	if spec.RunImmediately {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runTask(t)
		}()
		return id, doneCh, nil
	}

	select {
	case ch <- t:
	default:
		m.release(t)
		_ = m.repo.UpdateProgress(id, models.TaskStatusFailed, 0, "queue full")
		return "", nil, fmt.Errorf("queue %s is full", spec.Queue)
	}
	log.Printf("[task] queued %s %q on %s", id, spec.Title, spec.Queue)
	return id, doneCh, nil
}

func (m *Manager) worker(queue models.QueueType, ch chan *queuedTask) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-ch:
			m.mu.Lock()
			if _, cancelled := m.cancelledQueue[t.id]; cancelled {
				delete(m.cancelledQueue, t.id)
				m.mu.Unlock()
				m.finish(t, models.TaskStatusFailed, 0, msgUserCancelled)
				continue
			}
			cooldown, limited := m.limitedUntil[t.provider]
			m.mu.Unlock()

			if t.provider != "" && limited && time.Now().Before(cooldown) {
				m.park(t, time.Until(cooldown))
				continue
			}
			if queue == models.QueueDownload {
				if !m.waitForGlobalLimit() {
					return
				}
			}
			m.runTask(t)
		}
	}
}

// waitForGlobalLimit naps while the global quota is exhausted. Returns
// false when the manager is shutting down.
func (m *Manager) waitForGlobalLimit() bool {
	for {
		limited, wait := m.limiter.GlobalStatus()
		if !limited {
			return true
		}
		log.Printf("[task] global rate limit exhausted, download worker napping %s", wait.Round(time.Second))
		select {
		case <-m.ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (m *Manager) runTask(t *queuedTask) {
	ctx, cancel := context.WithCancel(m.ctx)
	g := newGate()

	m.mu.Lock()
	m.running[t.id] = &runningEntry{cancel: cancel, gate: g}
	m.mu.Unlock()

	_ = m.repo.UpdateProgress(t.id, models.TaskStatusRunning, 0, "运行中")
	log.Printf("[task] running %s %q", t.id, t.title)

	var lastWrite time.Time
	progress := func(ctx context.Context, pct int, description string) error {
		if err := g.Wait(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		boundary := pct <= 0 || pct >= 100
		if !boundary && time.Since(lastWrite) < progressDebounce {
			return nil
		}
		lastWrite = time.Now()
		return m.repo.UpdateProgress(t.id, models.TaskStatusRunning, pct, description)
	}

	result := func() (r Result) {
		defer func() {
			if rec := recover(); rec != nil {
				r = Failf("task panicked: %v", rec)
			}
		}()
		return t.body(ctx, progress)
	}()
	cancel()

	m.mu.Lock()
	delete(m.running, t.id)
	m.mu.Unlock()

	if errors.Is(m.ctx.Err(), context.Canceled) && result.kind != resultDone {
		// shutdown: leave the row for startup recovery
		return
	}

	switch result.kind {
	case resultDone:
		msg := result.message
		if msg == "" {
			msg = msgCompleted
		}
		m.finish(t, models.TaskStatusCompleted, 100, msg)
	case resultPause:
		m.pauseForRateLimit(t, result)
	case resultFail:
		msg := msgUserCancelled
		if !errors.Is(result.err, context.Canceled) {
			msg = lastLine(result.err)
		}
		m.finish(t, models.TaskStatusFailed, 0, msg)
	}
}

// pauseForRateLimit parks the task and records the provider cooldown. The
// done channel stays open; the unique key and title stay claimed.
func (m *Manager) pauseForRateLimit(t *queuedTask, r Result) {
	msg := r.message
	if msg == "" {
		msg = fmt.Sprintf("触发速率限制，%s 后重试", r.retryAfter.Round(time.Second))
	}
	_ = m.repo.UpdateProgress(t.id, models.TaskStatusPaused, 0, msg)

	m.mu.Lock()
	if t.provider != "" {
		m.limitedUntil[t.provider] = time.Now().Add(r.retryAfter)
	}
	m.paused[t.id] = &pausedEntry{task: t, resumeAt: time.Now().Add(r.retryAfter)}
	m.mu.Unlock()
	log.Printf("[task] paused %s %q for %s", t.id, t.title, r.retryAfter.Round(time.Second))
}

// park is the worker-side version of pauseForRateLimit, used when the
// provider cooldown is known before the task even starts.
func (m *Manager) park(t *queuedTask, wait time.Duration) {
	_ = m.repo.UpdateProgress(t.id, models.TaskStatusPaused, 0,
		fmt.Sprintf("提供方冷却中，%s 后重试", wait.Round(time.Second)))
	m.mu.Lock()
	m.paused[t.id] = &pausedEntry{task: t, resumeAt: time.Now().Add(wait)}
	m.mu.Unlock()
}

// pausedMonitor re-enqueues parked tasks whose cooldown has elapsed and
// evicts expired provider cooldowns.
func (m *Manager) pausedMonitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			var ready []*queuedTask
			for id, entry := range m.paused {
				if now.After(entry.resumeAt) {
					ready = append(ready, entry.task)
					delete(m.paused, id)
				}
			}
			for provider, until := range m.limitedUntil {
				if now.After(until) {
					delete(m.limitedUntil, provider)
				}
			}
			m.mu.Unlock()

			for _, t := range ready {
				_ = m.repo.UpdateProgress(t.id, models.TaskStatusPending, 0, "等待重新执行")
				select {
				case m.queues[t.queue] <- t:
					log.Printf("[task] resumed %s %q", t.id, t.title)
				default:
					log.Printf("[task] queue %s full, re-parking %s", t.queue, t.id)
					m.mu.Lock()
					m.paused[t.id] = &pausedEntry{task: t, resumeAt: now.Add(5 * time.Second)}
					m.mu.Unlock()
				}
			}
		}
	}
}

func (m *Manager) finish(t *queuedTask, status models.TaskStatus, pct int, description string) {
	_ = m.repo.UpdateProgress(t.id, status, pct, description)
	m.release(t)
	log.Printf("[task] finished %s %q: %s (%s)", t.id, t.title, status, description)
}

// release frees the dedup claims and closes the done channel.
func (m *Manager) release(t *queuedTask) {
	m.mu.Lock()
	if id, ok := m.pendingTitles[t.title]; ok && id == t.id {
		delete(m.pendingTitles, t.title)
	}
	if t.unique != "" {
		if id, ok := m.activeUniques[t.unique]; ok && id == t.id {
			delete(m.activeUniques, t.unique)
		}
	}
	doneCh := m.done[t.id]
	delete(m.done, t.id)
	m.mu.Unlock()
	if doneCh != nil {
		close(doneCh)
	}
}

// Pause gates a running task at its next progress call.
func (m *Manager) Pause(taskID string) error {
	m.mu.Lock()
	entry, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	entry.gate.Pause()
	return m.repo.UpdateProgress(taskID, models.TaskStatusPaused, 0, "已被用户暂停")
}

// Resume reopens a user-paused gate, or fast-forwards a rate-limit pause.
func (m *Manager) Resume(taskID string) error {
	m.mu.Lock()
	if entry, ok := m.running[taskID]; ok {
		m.mu.Unlock()
		entry.gate.Resume()
		return m.repo.UpdateProgress(taskID, models.TaskStatusRunning, 0, "已恢复")
	}
	entry, ok := m.paused[taskID]
	if ok {
		entry.resumeAt = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

// Abort cancels a running task; cancellation is fatal for the task.
func (m *Manager) Abort(taskID string) error {
	m.mu.Lock()
	entry, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		return m.CancelPending(taskID)
	}
	entry.gate.Resume() // a paused task must observe the cancellation
	entry.cancel()
	return nil
}

// CancelPending marks a queued (not yet running) task cancelled; the worker
// discards it on pickup. Parked tasks are cancelled immediately.
func (m *Manager) CancelPending(taskID string) error {
	m.mu.Lock()
	if entry, ok := m.paused[taskID]; ok {
		delete(m.paused, taskID)
		t := entry.task
		m.mu.Unlock()
		m.finish(t, models.TaskStatusFailed, 0, msgUserCancelled)
		return nil
	}
	m.cancelledQueue[taskID] = struct{}{}
	m.mu.Unlock()
	return nil
}

func lastLine(err error) string {
	if err == nil {
		return "unknown error"
	}
	s := err.Error()
	if i := len(s) - 1; i >= 0 {
		for j := i; j >= 0; j-- {
			if s[j] == '\n' {
				return s[j+1:]
			}
		}
	}
	return s
}
