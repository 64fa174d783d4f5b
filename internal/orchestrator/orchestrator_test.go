package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

type fakeAuditor struct {
	failing map[string]bool
	delay   time.Duration
	block   chan struct{}
	started chan string

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu         sync.Mutex
	categories []catalog.Category
	ctxErrs    []error
}

func (f *fakeAuditor) AuditURL(ctx context.Context, url, sellerID string, category catalog.Category) (*report.AuditReport, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.started != nil {
		f.started <- url
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.categories = append(f.categories, category)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	if f.failing[url] {
		return nil, fmt.Errorf("page %s returned status 503", url)
	}
	return &report.AuditReport{
		ProductID:       "rep-" + url,
		SellerID:        sellerID,
		SourceURL:       url,
		Category:        category,
		ComplianceScore: 90,
		RiskLevel:       rules.Compliant,
		CreatedAt:       time.Now(),
	}, nil
}

type fakeDiscoverer struct {
	urls   []string
	err    error
	panics bool
	got    scraper.Query
}

func (f *fakeDiscoverer) Discover(_ context.Context, q scraper.Query) ([]string, error) {
	f.got = q
	if f.panics {
		panic("search page layout changed")
	}
	return f.urls, f.err
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.amazon.in/dp/P%03d", i)
	}
	return out
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) Task {
	t.Helper()
	var snap Task
	require.Eventually(t, func() bool {
		var err error
		snap, err = o.Status(id)
		require.NoError(t, err)
		return snap.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func foodRequest(max int) Request {
	return Request{Category: scraper.FoodOil, MaxProducts: max, SellerID: "regulator"}
}

func TestSubmit_PartialSuccessIsCompleted(t *testing.T) {
	all := urls(5)
	auditor := &fakeAuditor{failing: map[string]bool{all[1]: true, all[3]: true}}
	disc := &fakeDiscoverer{urls: all}
	metrics := NewMetrics(prometheus.NewRegistry())
	o := New(auditor, disc, Config{Workers: 2}, WithMetrics(metrics))

	id, err := o.Submit(context.Background(), foodRequest(5))
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)
	require.NoError(t, o.Wait(context.Background()))

	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, snap.Total, snap.Done())
	assert.Len(t, snap.Results, snap.Completed)
	require.Len(t, snap.Errors, 2)
	assert.Contains(t, snap.Errors[0], "503")
	assert.Empty(t, snap.Error)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, 1.0, snap.Progress())

	assert.Equal(t, scraper.FoodOil, disc.got.Category)
	assert.Equal(t, scraper.Amazon, disc.got.Marketplace, "empty marketplace defaults to amazon")
	assert.Equal(t, 5, disc.got.MaxProducts)
	for _, c := range auditor.categories {
		assert.Equal(t, catalog.Food, c)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ProductsTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ProductsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TasksRunning))
}

func TestSubmit_AllProductsFailingStillCompletes(t *testing.T) {
	all := urls(3)
	failing := map[string]bool{}
	for _, u := range all {
		failing[u] = true
	}
	o := New(&fakeAuditor{failing: failing}, &fakeDiscoverer{urls: all}, Config{})

	id, err := o.Submit(context.Background(), foodRequest(3))
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)

	assert.Equal(t, StateCompleted, snap.State)
	assert.Zero(t, snap.Completed)
	assert.Equal(t, 3, snap.Failed)
	assert.Empty(t, snap.Results)
}

func TestSubmit_ReturnsBeforeAuditsFinish(t *testing.T) {
	auditor := &fakeAuditor{block: make(chan struct{})}
	o := New(auditor, &fakeDiscoverer{urls: urls(2)}, Config{Workers: 2})

	id, err := o.Submit(context.Background(), foodRequest(2))
	require.NoError(t, err)

	snap, err := o.Status(id)
	require.NoError(t, err)
	assert.False(t, snap.State.Terminal())
	assert.Contains(t, []State{StatePending, StateRunning}, snap.State)

	close(auditor.block)
	assert.Equal(t, StateCompleted, waitTerminal(t, o, id).State)
}

func TestSubmit_BoundedConcurrency(t *testing.T) {
	auditor := &fakeAuditor{delay: 10 * time.Millisecond}
	o := New(auditor, &fakeDiscoverer{urls: urls(20)}, Config{Workers: 3})

	id, err := o.Submit(context.Background(), foodRequest(20))
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)

	assert.Equal(t, 20, snap.Completed)
	assert.Equal(t, int32(20), auditor.calls.Load())
	assert.LessOrEqual(t, auditor.maxInFlight.Load(), int32(3))
}

func TestSubmit_DiscoveryAborts(t *testing.T) {
	tests := []struct {
		name   string
		disc   *fakeDiscoverer
		reason string
	}{
		{name: "search failed", disc: &fakeDiscoverer{err: errors.New("all product searches failed")}, reason: "product discovery failed"},
		{name: "nothing found", disc: &fakeDiscoverer{}, reason: "no candidate products found"},
		{name: "panic", disc: &fakeDiscoverer{panics: true}, reason: "discovery panic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := &fakeAuditor{}
			metrics := NewMetrics(prometheus.NewRegistry())
			o := New(auditor, tt.disc, Config{}, WithMetrics(metrics))

			id, err := o.Submit(context.Background(), foodRequest(5))
			require.NoError(t, err)
			snap := waitTerminal(t, o, id)
			require.NoError(t, o.Wait(context.Background()))

			assert.Equal(t, StateFailed, snap.State)
			assert.Contains(t, snap.Error, tt.reason)
			assert.Contains(t, snap.Error, id)
			assert.Zero(t, snap.Total)
			assert.Zero(t, auditor.calls.Load())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("failed")))
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	o := New(&fakeAuditor{}, &fakeDiscoverer{urls: urls(1)}, Config{MaxProducts: 10})
	tests := []struct {
		name string
		req  Request
	}{
		{name: "unknown category", req: Request{Category: "toys", MaxProducts: 1}},
		{name: "custom without keyword", req: Request{Category: scraper.Custom, MaxProducts: 1}},
		{name: "zero products", req: Request{Category: scraper.Cosmetics}},
		{name: "too many products", req: Request{Category: scraper.Cosmetics, MaxProducts: 11}},
		{name: "unknown marketplace", req: Request{Category: scraper.Cosmetics, MaxProducts: 1, Marketplace: "ebay"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Empty(t, o.List())

	noDiscovery := New(&fakeAuditor{}, nil, Config{})
	_, err := noDiscovery.Submit(context.Background(), foodRequest(1))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	id, err := o.Submit(context.Background(), Request{Category: scraper.Custom, CustomKeyword: "ghee", MaxProducts: 1, Marketplace: "Flipkart"})
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)
	assert.Equal(t, "flipkart", snap.Marketplace)
}

func TestSubmitURLs(t *testing.T) {
	auditor := &fakeAuditor{}
	o := New(auditor, nil, Config{MaxURLs: 3})

	id, err := o.SubmitURLs(context.Background(), URLRequest{
		URLs:     []string{"https://a", " https://a ", "", "https://b"},
		SellerID: "s-1",
		Category: catalog.Electronics,
	})
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)
	require.NoError(t, o.Wait(context.Background()))

	assert.Equal(t, SourceURLs, snap.Source)
	assert.Equal(t, 2, snap.Total, "blank and duplicate urls are dropped")
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, []catalog.Category{catalog.Electronics, catalog.Electronics}, auditor.categories)

	_, err = o.SubmitURLs(context.Background(), URLRequest{URLs: []string{" "}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = o.SubmitURLs(context.Background(), URLRequest{URLs: urls(4)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1), Category: "toys"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestErrorsAreCappedButCounted(t *testing.T) {
	all := urls(6)
	failing := map[string]bool{}
	for _, u := range all[:5] {
		failing[u] = true
	}
	o := New(&fakeAuditor{failing: failing}, nil, Config{ErrorDisplayCap: 2})

	id, err := o.SubmitURLs(context.Background(), URLRequest{URLs: all})
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)

	assert.Equal(t, 5, snap.Failed)
	assert.Equal(t, 1, snap.Completed)
	assert.Len(t, snap.Errors, 2)
}

func TestCancel_LetsInFlightAuditFinish(t *testing.T) {
	auditor := &fakeAuditor{block: make(chan struct{}), started: make(chan string, 1)}
	o := New(auditor, nil, Config{Workers: 1})

	id, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(4)})
	require.NoError(t, err)

	select {
	case <-auditor.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first audit never started")
	}
	require.NoError(t, o.Cancel(id))
	close(auditor.block)

	snap := waitTerminal(t, o, id)
	require.NoError(t, o.Wait(context.Background()))
	assert.Equal(t, StateCompleted, snap.State)
	assert.True(t, snap.Cancelled)
	assert.Equal(t, 1, snap.Completed, "the in-flight audit finishes")
	assert.Equal(t, 3, snap.Failed)
	assert.Equal(t, snap.Total, snap.Done())
	assert.Equal(t, int32(1), auditor.calls.Load(), "no audit starts after cancel")
	require.Len(t, auditor.ctxErrs, 1)
	assert.NoError(t, auditor.ctxErrs[0], "in-flight audit context is not cancelled")

	assert.ErrorIs(t, o.Cancel(id), ErrTaskFinished)
	assert.ErrorIs(t, o.Cancel("missing"), ErrTaskNotFound)
}

func TestProductTimeoutIsProductFailure(t *testing.T) {
	auditor := &fakeAuditor{delay: time.Minute}
	o := New(auditor, nil, Config{Workers: 2, ProductTimeout: 20 * time.Millisecond})

	id, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(2)})
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)

	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 2, snap.Failed)
	require.NotEmpty(t, snap.Errors)
	assert.Contains(t, snap.Errors[0], context.DeadlineExceeded.Error())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSubmit_PrunesExpiredTasks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	o := New(&fakeAuditor{}, nil, Config{Retention: time.Hour}, WithClock(clock.Now))

	old, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1)})
	require.NoError(t, err)
	waitTerminal(t, o, old)

	clock.Advance(30 * time.Minute)
	recent, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1)})
	require.NoError(t, err)
	waitTerminal(t, o, recent)
	_, err = o.Status(old)
	require.NoError(t, err, "tasks inside the retention window are kept")

	clock.Advance(45 * time.Minute)
	_, err = o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1)})
	require.NoError(t, err)

	_, err = o.Status(old)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = o.Status(recent)
	assert.NoError(t, err)
}

func TestList_NewestFirst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	o := New(&fakeAuditor{}, nil, Config{}, WithClock(clock.Now))

	first, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1)})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1)})
	require.NoError(t, err)
	require.NoError(t, o.Wait(context.Background()))

	list := o.List()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestClose_RejectsNewTasks(t *testing.T) {
	o := New(&fakeAuditor{}, nil, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Close(ctx))

	_, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(1)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatus_UnknownTask(t *testing.T) {
	o := New(&fakeAuditor{}, nil, Config{})
	_, err := o.Status("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStatus_SnapshotIsACopy(t *testing.T) {
	o := New(&fakeAuditor{}, nil, Config{})
	id, err := o.SubmitURLs(context.Background(), URLRequest{URLs: urls(2)})
	require.NoError(t, err)
	snap := waitTerminal(t, o, id)

	snap.Results[0] = nil
	snap.Errors = append(snap.Errors, "tampered")

	again, err := o.Status(id)
	require.NoError(t, err)
	assert.NotNil(t, again.Results[0])
	assert.Empty(t, again.Errors)
}

func TestTaskAbort(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &TaskAbort{TaskID: "t-1", Reason: "product discovery failed", Cause: cause}
	assert.Equal(t, "task t-1 aborted: product discovery failed: dial tcp: timeout", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "task t-1 aborted: no candidate products found", (&TaskAbort{TaskID: "t-1", Reason: "no candidate products found"}).Error())
}

func TestTask_Progress(t *testing.T) {
	assert.Zero(t, Task{State: StatePending}.Progress())
	assert.Equal(t, 0.5, Task{State: StateRunning, Total: 4, Completed: 1, Failed: 1}.Progress())
	assert.Equal(t, 1.0, Task{State: StateFailed}.Progress())
}
