package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/config"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

const cancelledMessage = "cancelled before audit"

// Auditor audits one product page.
type Auditor interface {
	AuditURL(ctx context.Context, url, sellerID string, category catalog.Category) (*report.AuditReport, error)
}

// Discoverer resolves candidate product URLs for a category search.
type Discoverer interface {
	Discover(ctx context.Context, q scraper.Query) ([]string, error)
}

// Config bounds task execution.
type Config struct {
	Workers         int
	ProductTimeout  time.Duration
	ErrorDisplayCap int
	MaxProducts     int
	MaxURLs         int
	Retention       time.Duration
}

// ConfigFrom maps the audit and server sections onto a Config.
func ConfigFrom(audit config.AuditConfig, server config.ServerConfig) Config {
	return Config{
		Workers:         audit.Workers,
		ProductTimeout:  audit.ProductTimeout.Duration(),
		ErrorDisplayCap: audit.ErrorDisplayCap,
		MaxProducts:     audit.MaxProducts,
		MaxURLs:         server.MaxBulkURLs,
		Retention:       audit.TaskRetention.Duration(),
	}
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.ProductTimeout <= 0 {
		c.ProductTimeout = 90 * time.Second
	}
	if c.ErrorDisplayCap <= 0 {
		c.ErrorDisplayCap = 20
	}
	if c.MaxProducts <= 0 {
		c.MaxProducts = 100
	}
	if c.MaxURLs <= 0 {
		c.MaxURLs = 50
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// task is the shared record of one bulk audit. Every field of snap is
// guarded by mu; workers only touch it through record.
type task struct {
	mu     sync.Mutex
	snap   Task
	cancel context.CancelFunc
}

func (t *task) snapshot() Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	s.Results = make([]*report.AuditReport, len(t.snap.Results))
	copy(s.Results, t.snap.Results)
	s.Errors = make([]string, len(t.snap.Errors))
	copy(s.Errors, t.snap.Errors)
	if t.snap.FinishedAt != nil {
		f := *t.snap.FinishedAt
		s.FinishedAt = &f
	}
	return s
}

// Orchestrator runs bulk audit tasks in the background with a fixed worker
// pool per task.
type Orchestrator struct {
	cfg        Config
	auditor    Auditor
	discoverer Discoverer
	events     Publisher
	metrics    *Metrics
	logger     *logging.Logger
	now        func() time.Time

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	tasks  map[string]*task
	closed bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sends task events to p.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// WithMetrics records Prometheus metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the task timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. The discoverer may be nil when only
// explicit URL tasks are used.
func New(auditor Auditor, discoverer Discoverer, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		auditor:    auditor,
		discoverer: discoverer,
		events:     NopPublisher{},
		metrics:    NewMetrics(nil),
		logger:     logging.NewNop(),
		now:        time.Now,
		base:       base,
		stop:       stop,
		tasks:      make(map[string]*task),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates req, registers a pending task and starts discovery in the
// background. It returns as soon as the task exists.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if _, err := scraper.ParseDiscoveryCategory(string(req.Category)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Category.Keywords(req.CustomKeyword)) == 0 {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, scraper.ErrNoKeywords)
	}
	if req.MaxProducts < 1 || req.MaxProducts > o.cfg.MaxProducts {
		return "", fmt.Errorf("%w: max_products must be between 1 and %d", ErrInvalidRequest, o.cfg.MaxProducts)
	}
	market, err := scraper.ParseMarketplace(string(req.Marketplace))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if o.discoverer == nil {
		return "", fmt.Errorf("%w: product discovery is not configured", ErrInvalidRequest)
	}

	q := scraper.Query{
		Category:      req.Category,
		MaxProducts:   req.MaxProducts,
		Marketplace:   market,
		CustomKeyword: req.CustomKeyword,
	}
	snap := Task{
		Source:      SourceDiscovery,
		Category:    string(req.Category),
		Marketplace: string(market),
		SellerID:    req.SellerID,
	}
	discover := func(ctx context.Context) ([]string, error) {
		return o.discoverer.Discover(ctx, q)
	}
	return o.start(ctx, snap, req.Category.AuditCategory(), discover)
}

// SubmitURLs starts a task over explicit product URLs, skipping discovery.
// Duplicate and blank URLs are dropped.
func (o *Orchestrator) SubmitURLs(ctx context.Context, req URLRequest) (string, error) {
	urls := make([]string, 0, len(req.URLs))
	seen := make(map[string]struct{}, len(req.URLs))
	for _, u := range req.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: no urls", ErrInvalidRequest)
	}
	if len(urls) > o.cfg.MaxURLs {
		return "", fmt.Errorf("%w: at most %d urls per task", ErrInvalidRequest, o.cfg.MaxURLs)
	}
	if req.Category != "" && !req.Category.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, req.Category)
	}

	snap := Task{
		Source:   SourceURLs,
		Category: string(req.Category),
		SellerID: req.SellerID,
	}
	discover := func(context.Context) ([]string, error) { return urls, nil }
	return o.start(ctx, snap, req.Category, discover)
}

func (o *Orchestrator) start(ctx context.Context, snap Task, category catalog.Category, discover func(context.Context) ([]string, error)) (string, error) {
	now := o.now().UTC()
	snap.ID = uuid.NewString()
	snap.State = StatePending
	snap.Results = []*report.AuditReport{}
	snap.Errors = []string{}
	snap.CreatedAt = now
	snap.UpdatedAt = now

	taskCtx, cancel := context.WithCancel(o.base)
	t := &task{snap: snap, cancel: cancel}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	o.pruneLocked(now)
	o.tasks[snap.ID] = t
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.TasksRunning.Inc()
	o.logger.Info(ctx, "bulk task submitted",
		zap.String("task_id", snap.ID),
		zap.String("source", string(snap.Source)),
		zap.String("category", snap.Category),
	)

	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(logging.WithTaskID(taskCtx, snap.ID), t, category, discover)
	}()
	return snap.ID, nil
}

// run drives one task from pending to a terminal state.
func (o *Orchestrator) run(ctx context.Context, t *task, category catalog.Category, discover func(context.Context) ([]string, error)) {
	urls, err := o.discover(ctx, discover)
	if err != nil {
		o.abort(ctx, t, "product discovery failed", err)
		return
	}
	if len(urls) == 0 {
		o.abort(ctx, t, "no candidate products found", nil)
		return
	}

	t.mu.Lock()
	t.snap.Total = len(urls)
	t.snap.State = StateRunning
	t.snap.UpdatedAt = o.now().UTC()
	started := newEvent(EventStarted, t.snap, t.snap.UpdatedAt)
	t.mu.Unlock()
	o.publish(ctx, started)

	o.execute(ctx, t, urls, category)
	o.finish(ctx, t)
}

func (o *Orchestrator) discover(ctx context.Context, discover func(context.Context) ([]string, error)) (urls []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discovery panic: %v", r)
		}
	}()
	return discover(ctx)
}

// execute feeds urls to a fixed pool of workers. After cancellation no new
// audit starts; products not yet started are failed without calling out.
func (o *Orchestrator) execute(ctx context.Context, t *task, urls []string, category catalog.Category) {
	sellerID := t.snapshot().SellerID
	jobs := make(chan string)
	workers := min(o.cfg.Workers, len(urls))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				o.auditOne(ctx, t, u, sellerID, category)
			}
		}()
	}

	skipped := 0
	for i, u := range urls {
		if ctx.Err() != nil {
			skipped = len(urls) - i
			break
		}
		select {
		case jobs <- u:
		case <-ctx.Done():
			skipped = len(urls) - i
		}
		if skipped > 0 {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if skipped > 0 {
		t.mu.Lock()
		t.snap.Failed += skipped
		t.snap.Cancelled = true
		o.appendErrorLocked(t, fmt.Sprintf("%d products %s", skipped, cancelledMessage))
		t.snap.UpdatedAt = o.now().UTC()
		t.mu.Unlock()
		o.metrics.ProductsTotal.WithLabelValues("cancelled").Add(float64(skipped))
	}
}

// auditOne runs a single product. In-flight audits are detached from task
// cancellation and bounded only by the product timeout.
func (o *Orchestrator) auditOne(ctx context.Context, t *task, url, sellerID string, category catalog.Category) {
	if ctx.Err() != nil {
		o.record(ctx, t, url, nil, errors.New(cancelledMessage), "cancelled")
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProductTimeout)
	defer cancel()

	begin := time.Now()
	rep, err := o.audit(actx, url, sellerID, category)
	o.metrics.ProductDuration.Observe(time.Since(begin).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	o.record(ctx, t, url, rep, err, outcome)
}

func (o *Orchestrator) audit(ctx context.Context, url, sellerID string, category catalog.Category) (rep *report.AuditReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit panic: %v", r)
		}
	}()
	rep, err = o.auditor.AuditURL(ctx, url, sellerID, category)
	if err == nil && rep == nil {
		err = errors.New("auditor returned no report")
	}
	return rep, err
}

// record is the only place workers mutate a task. It holds the lock for
// counter and slice updates only.
func (o *Orchestrator) record(ctx context.Context, t *task, url string, rep *report.AuditReport, err error, outcome string) {
	t.mu.Lock()
	if err != nil {
		t.snap.Failed++
		o.appendErrorLocked(t, fmt.Sprintf("Failed to audit %s: %v", url, err))
	} else {
		t.snap.Completed++
		t.snap.Results = append(t.snap.Results, rep)
	}
	t.snap.UpdatedAt = o.now().UTC()
	ev := newEvent(EventProgress, t.snap, t.snap.UpdatedAt)
	t.mu.Unlock()

	ev.URL = url
	if rep != nil {
		ev.ProductID = rep.ProductID
	}
	if err != nil {
		ev.Error = err.Error()
		o.logger.Warn(ctx, "bulk product audit failed", zap.String("url", url), zap.Error(err))
	}
	o.metrics.ProductsTotal.WithLabelValues(outcome).Inc()
	o.publish(ctx, ev)
}

func (o *Orchestrator) appendErrorLocked(t *task, msg string) {
	if len(t.snap.Errors) < o.cfg.ErrorDisplayCap {
		t.snap.Errors = append(t.snap.Errors, msg)
	}
}

// finish moves a task that ran workers to completed. Per-product failures,
// however many, never fail the task itself.
func (o *Orchestrator) finish(ctx context.Context, t *task) {
	t.mu.Lock()
	now := o.now().UTC()
	t.snap.State = StateCompleted
	t.snap.UpdatedAt = now
	t.snap.FinishedAt = &now
	ev := newEvent(EventCompleted, t.snap, now)
	t.mu.Unlock()

	o.metrics.TasksRunning.Dec()
	o.metrics.TasksTotal.WithLabelValues(string(StateCompleted)).Inc()
	o.logger.Info(ctx, "bulk task completed",
		zap.Int("total", ev.Total),
		zap.Int("completed", ev.Completed),
		zap.Int("failed", ev.Failed),
	)
	o.publish(ctx, ev)
}

func (o *Orchestrator) abort(ctx context.Context, t *task, reason string, cause error) {
	t.mu.Lock()
	abort := &TaskAbort{TaskID: t.snap.ID, Reason: reason, Cause: cause}
	if cause != nil && errors.Is(cause, context.Canceled) {
		t.snap.Cancelled = true
	}
	now := o.now().UTC()
	t.snap.State = StateFailed
	t.snap.Error = abort.Error()
	t.snap.UpdatedAt = now
	t.snap.FinishedAt = &now
	ev := newEvent(EventFailed, t.snap, now)
	t.mu.Unlock()

	o.metrics.TasksRunning.Dec()
	o.metrics.TasksTotal.WithLabelValues(string(StateFailed)).Inc()
	o.logger.Error(ctx, "bulk task aborted", zap.Error(abort))
	o.publish(ctx, ev)
}

func (o *Orchestrator) publish(ctx context.Context, e Event) {
	if err := o.events.Publish(ctx, e); err != nil {
		o.logger.Warn(ctx, "task event not published",
			zap.String("event", string(e.Type)),
			zap.Error(err),
		)
	}
}

// Status returns a snapshot of the task. It never waits for the task.
func (o *Orchestrator) Status(id string) (Task, error) {
	o.mu.RLock()
	t, ok := o.tasks[id]
	o.mu.RUnlock()
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.snapshot(), nil
}

// List returns snapshots of every retained task, newest first.
func (o *Orchestrator) List() []Task {
	o.mu.RLock()
	tasks := make([]*task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.RUnlock()

	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.snapshot()
	}
	sortNewestFirst(out)
	return out
}

// Cancel stops a task from starting further product audits. Audits already
// in flight run to completion or timeout.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.RLock()
	t, ok := o.tasks[id]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.mu.Lock()
	terminal := t.snap.State.Terminal()
	t.mu.Unlock()
	if terminal {
		return fmt.Errorf("%w: %s", ErrTaskFinished, id)
	}
	t.cancel()
	return nil
}

// Wait blocks until every submitted task is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new tasks, cancels running ones and waits for in-flight
// audits until ctx is done.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()
	return o.Wait(ctx)
}

// pruneLocked drops terminal tasks that finished before the retention window.
func (o *Orchestrator) pruneLocked(now time.Time) {
	cutoff := now.Add(-o.cfg.Retention)
	for id, t := range o.tasks {
		t.mu.Lock()
		expired := t.snap.FinishedAt != nil && t.snap.FinishedAt.Before(cutoff)
		t.mu.Unlock()
		if expired {
			delete(o.tasks, id)
		}
	}
}

func sortNewestFirst(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}
