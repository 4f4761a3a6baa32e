package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/commerce-pulse/internal/aggregate"
	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/metrics"
	"github.com/Priya8975/commerce-pulse/internal/normalize"
	"github.com/Priya8975/commerce-pulse/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var fastRetry = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

var errTransient = errors.New("connection reset")

// flakyStore fails the first n calls of selected operations.
type flakyStore struct {
	*store.MemoryStore

	mu         sync.Mutex
	failRaw    int
	failUpsert map[string]bool
	rawCalls   atomic.Int64
}

func (f *flakyStore) InsertRawEvents(ctx context.Context, events []domain.RawEvent) ([]bool, error) {
	f.rawCalls.Add(1)
	f.mu.Lock()
	if f.failRaw > 0 {
		f.failRaw--
		f.mu.Unlock()
		return nil, errTransient
	}
	f.mu.Unlock()
	return f.MemoryStore.InsertRawEvents(ctx, events)
}

func (f *flakyStore) UpsertOrderAggregate(ctx context.Context, agg domain.OrderAggregate) error {
	if f.failUpsert[agg.OrderRef] {
		return errTransient
	}
	return f.MemoryStore.UpsertOrderAggregate(ctx, agg)
}

// pickyStore refuses any write that contains an event from one vendor, the
// way Postgres refuses a whole batch over one bad row.
type pickyStore struct {
	*store.MemoryStore

	refuseRaw     string
	refuseCurated string
}

var errRefused = errors.New("invalid byte sequence for encoding")

func (s *pickyStore) InsertRawEvents(ctx context.Context, events []domain.RawEvent) ([]bool, error) {
	for _, ev := range events {
		if s.refuseRaw != "" && ev.Vendor == s.refuseRaw {
			return nil, errRefused
		}
	}
	return s.MemoryStore.InsertRawEvents(ctx, events)
}

func (s *pickyStore) UpsertCuratedEvents(ctx context.Context, events []domain.CuratedEvent) ([]bool, error) {
	for _, ev := range events {
		if s.refuseCurated != "" && ev.Vendor == s.refuseCurated {
			return nil, errRefused
		}
	}
	return s.MemoryStore.UpsertCuratedEvents(ctx, events)
}

type recordingPublisher struct {
	mu   sync.Mutex
	aggs []domain.OrderAggregate
}

func (r *recordingPublisher) PublishOrderUpdate(agg domain.OrderAggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggs = append(r.aggs, agg)
}

func raw(id string, et domain.EventType, vendor string, at domain.RawTime, payload string) domain.RawEvent {
	return domain.RawEvent{
		EventID:   id,
		EventType: et,
		EventTime: at,
		Vendor:    vendor,
		Payload:   json.RawMessage(payload),
	}
}

// ord1Batch is one order's lifecycle spread over all three vendor shapes,
// with a retried delivery of the first event.
func ord1Batch() []domain.RawEvent {
	return []domain.RawEvent{
		raw("a-1", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-1","amount":100}`),
		raw("b-1", domain.EventOrderCreated, "vendor_b", "2025-01-15 09:05:00", `{"order_id":"ORD-1","amount":100}`),
		raw("c-1", domain.EventPaymentSucceeded, "vendor_c", "1736932200", `{"order":"ORD-1","amount":100}`),
		raw("a-2", domain.EventPaymentSucceeded, "vendor_a", "2025-01-15T09:12:00+00:00", `{"orderRef":"ORD-1","amount":100}`),
		raw("b-2", domain.EventRefundIssued, "vendor_b", "2025-01-15T11:00:00Z", `{"order_id":"ORD-1","amount":10}`),
		raw("c-2", domain.EventRefundIssued, "vendor_c", "2025-01-15T12:00:00Z", `{"order":{"id":"ORD-1"},"amount":5}`),
		raw("a-1-retry", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"amount":100,"orderRef":"ORD-1"}`),
	}
}

func newTestPipeline(s Store, opts Options) *Pipeline {
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = fastRetry
	}
	if opts.NumWorkers == 0 {
		opts.NumWorkers = 3
	}
	return New(s, opts, testLogger())
}

func TestPipeline_ORD1EndToEnd(t *testing.T) {
	mem := store.NewMemory()
	pub := &recordingPublisher{}
	p := newTestPipeline(mem, Options{Publisher: pub})
	ctx := context.Background()

	res, err := p.Ingest(ctx, ord1Batch())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 7, Inserted: 6, Duplicates: 1}, res)

	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Transform.Scanned)
	assert.Equal(t, 0, report.Transform.Unattributable)
	assert.Equal(t, BuildResult{Orders: 1, Materialized: 1}, report.Build)

	agg, err := mem.GetOrderAggregate(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, agg)
	require.NotNil(t, agg.CreatedAt)
	assert.True(t, agg.CreatedAt.Equal(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, agg.PaidAt)
	assert.True(t, agg.PaidAt.Equal(time.Date(2025, 1, 15, 9, 12, 0, 0, time.UTC)))
	assert.Nil(t, agg.DeliveredAt)
	assert.Equal(t, 2, agg.RefundCount)

	require.Len(t, pub.aggs, 1)
	assert.Equal(t, "ORD-1", pub.aggs[0].OrderRef)
}

func TestPipeline_StoredEventIDIsFingerprint(t *testing.T) {
	mem := store.NewMemory()
	p := newTestPipeline(mem, Options{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, ord1Batch()[:1])
	require.NoError(t, err)

	stored, err := mem.ListRawEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].EventID, 64)
	assert.Equal(t, "a-1", stored[0].SourceEventID)
	assert.NotEmpty(t, stored[0].IngestedAt)
}

func TestPipeline_RerunIsByteIdentical(t *testing.T) {
	mem := store.NewMemory()
	p := newTestPipeline(mem, Options{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, ord1Batch())
	require.NoError(t, err)
	_, err = p.Refresh(ctx)
	require.NoError(t, err)

	first, err := mem.ListOrderAggregates(ctx, 0)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	again, err := p.Ingest(ctx, ord1Batch())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 7, again.Duplicates)

	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Transform.Inserted)

	second, err := mem.ListOrderAggregates(ctx, 0)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestPipeline_UnattributableEvents(t *testing.T) {
	mem := store.NewMemory()
	m := metrics.New()
	p := newTestPipeline(mem, Options{Metrics: m})
	ctx := context.Background()

	batch := []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-2"}`),
		raw("", domain.EventOrderCreated, "vendor_b", "2025-01-15T09:00:00Z", `{"customer":"C-9"}`),
		raw("", domain.EventRefundIssued, "vendor_c", "2025-01-15T09:00:00Z", `[1,2,3]`),
	}
	_, err := p.Ingest(ctx, batch)
	require.NoError(t, err)

	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Transform.Scanned)
	assert.Equal(t, 2, report.Transform.Unattributable)
	assert.Equal(t, 1, report.Build.Orders)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsUnattributed.WithLabelValues("vendor_b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsUnattributed.WithLabelValues("vendor_c")))

	// Unattributable events stay stored but never reach the aggregator.
	attributed, err := mem.ListAttributedEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, attributed, 1)
}

func TestPipeline_RejectsMalformedPayload(t *testing.T) {
	mem := store.NewMemory()
	m := metrics.New()
	p := newTestPipeline(mem, Options{Metrics: m})

	batch := []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":`),
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-3"}`),
	}
	res, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 2, Inserted: 1, Rejected: 1}, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("vendor_a", metrics.ResultRejected)))
}

func TestPipeline_RejectsUnstorableEvents(t *testing.T) {
	mem := store.NewMemory()
	m := metrics.New()
	p := newTestPipeline(mem, Options{Metrics: m})

	longVendor := strings.Repeat("v", 65)
	withSource := raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5"}`)
	withSource.Source = strings.Repeat("s", 33)

	batch := []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor\x00a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5"}`),
		raw("", domain.EventOrderCreated, longVendor, "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5"}`),
		raw("", domain.EventType(strings.Repeat("e", 65)), "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5"}`),
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5","note":"a\u0000b"}`),
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5","a\u0000":1}`),
		withSource,
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-5","note":"a\\u0000b"}`),
	}
	res, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 7, Inserted: 1, Rejected: 6}, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues(longVendor, metrics.ResultRejected)))

	stored, err := mem.ListRawEvents(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.JSONEq(t, `{"orderRef":"ORD-5","note":"a\\u0000b"}`, string(stored[0].Payload))
}

func TestPipeline_StoreRefusedRowDoesNotSinkBatch(t *testing.T) {
	picky := &pickyStore{MemoryStore: store.NewMemory(), refuseRaw: "vendor_bad"}
	m := metrics.New()
	p := newTestPipeline(picky, Options{Metrics: m})

	batch := []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-6"}`),
		raw("", domain.EventOrderCreated, "vendor_bad", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-6"}`),
		raw("", domain.EventPaymentSucceeded, "vendor_a", "2025-01-15T09:05:00Z", `{"orderRef":"ORD-6"}`),
	}
	res, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 3, Inserted: 2, Rejected: 1}, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("vendor_bad", metrics.ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsFailed.WithLabelValues("insert_raw")))
}

func TestPipeline_StoreRefusedCuratedRowDoesNotSinkTransform(t *testing.T) {
	picky := &pickyStore{MemoryStore: store.NewMemory(), refuseCurated: "vendor_bad"}
	p := newTestPipeline(picky, Options{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-7"}`),
		raw("", domain.EventOrderCreated, "vendor_bad", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-8"}`),
		raw("", domain.EventPaymentSucceeded, "vendor_a", "2025-01-15T09:05:00Z", `{"orderRef":"ORD-7"}`),
	})
	require.NoError(t, err)

	report, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Transform.Scanned)
	assert.Equal(t, 2, report.Transform.Inserted)
	assert.Equal(t, 1, report.Transform.Failed)
	assert.Equal(t, 1, report.Build.Orders)

	agg, err := picky.GetOrderAggregate(ctx, "ORD-7")
	require.NoError(t, err)
	require.NotNil(t, agg)
	require.NotNil(t, agg.PaidAt)
}

func TestPipeline_WiderNormalizerReattributesStoredEvents(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	first := newTestPipeline(mem, Options{})
	_, err := first.Ingest(ctx, []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor_d", "2025-01-15T09:00:00Z", `{"purchase_ref":"ORD-9"}`),
	})
	require.NoError(t, err)

	report, err := first.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transform.Unattributable)
	assert.Equal(t, 0, report.Build.Orders)

	wider := newTestPipeline(mem, Options{
		Normalizer: normalize.New().With(normalize.FlatKey{Keys: []string{"purchase_ref"}}),
	})
	report, err = wider.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Transform.Inserted, "re-attributed rows are updates, not inserts")
	assert.Equal(t, 0, report.Transform.Unattributable)
	assert.Equal(t, 1, report.Build.Orders)

	agg, err := mem.GetOrderAggregate(ctx, "ORD-9")
	require.NoError(t, err)
	require.NotNil(t, agg)
	require.NotNil(t, agg.CreatedAt)
	assert.True(t, agg.CreatedAt.Equal(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)))
}

func TestPipeline_RetriesTransientInsertFailure(t *testing.T) {
	flaky := &flakyStore{MemoryStore: store.NewMemory(), failRaw: 2}
	m := metrics.New()
	p := newTestPipeline(flaky, Options{Metrics: m})

	res, err := p.Ingest(context.Background(), ord1Batch())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Inserted)
	assert.Equal(t, int64(3), flaky.rawCalls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreRetries.WithLabelValues("insert_raw")))
}

func TestPipeline_RetryExhaustionSurfaces(t *testing.T) {
	flaky := &flakyStore{MemoryStore: store.NewMemory(), failRaw: 10}
	p := newTestPipeline(flaky, Options{})

	_, err := p.Ingest(context.Background(), ord1Batch())
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	// Three batch attempts, then one attempt per row before giving up.
	assert.Equal(t, int64(3+7), flaky.rawCalls.Load())
}

func TestPipeline_PerOrderFailureDoesNotAbortOthers(t *testing.T) {
	flaky := &flakyStore{MemoryStore: store.NewMemory(), failUpsert: map[string]bool{"ORD-BAD": true}}
	p := newTestPipeline(flaky, Options{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, []domain.RawEvent{
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-BAD"}`),
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-GOOD-1"}`),
		raw("", domain.EventOrderCreated, "vendor_a", "2025-01-15T09:00:00Z", `{"orderRef":"ORD-GOOD-2"}`),
	})
	require.NoError(t, err)

	report, err := p.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "ORD-BAD")
	assert.Equal(t, 2, report.Build.Materialized)
	assert.Equal(t, 1, report.Build.Failed)

	good, err := flaky.GetOrderAggregate(ctx, "ORD-GOOD-2")
	require.NoError(t, err)
	assert.NotNil(t, good)
}

func TestPipeline_TerminalDeliveryPolicy(t *testing.T) {
	batch := []domain.RawEvent{
		raw("", domain.EventShipmentUpdated, "vendor_a", "2025-01-16T08:00:00Z", `{"orderRef":"ORD-4","status":"in_transit"}`),
		raw("", domain.EventShipmentUpdated, "vendor_b", "2025-01-17T08:00:00Z", `{"order_id":"ORD-4","shipment_status":"delivered"}`),
		raw("", domain.EventShipmentUpdated, "vendor_c", "2025-01-18T08:00:00Z", `{"order":{"id":"ORD-4"},"state":"RETURNED"}`),
	}

	tests := []struct {
		name   string
		policy aggregate.Policy
		want   time.Time
	}{
		{"any update", aggregate.Policy{}, time.Date(2025, 1, 18, 8, 0, 0, 0, time.UTC)},
		{"terminal only", aggregate.Policy{RequireTerminalDelivery: true}, time.Date(2025, 1, 17, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			p := newTestPipeline(mem, Options{Policy: tt.policy})
			ctx := context.Background()

			_, err := p.Ingest(ctx, batch)
			require.NoError(t, err)
			_, err = p.Refresh(ctx)
			require.NoError(t, err)

			agg, err := mem.GetOrderAggregate(ctx, "ORD-4")
			require.NoError(t, err)
			require.NotNil(t, agg)
			require.NotNil(t, agg.DeliveredAt)
			assert.True(t, agg.DeliveredAt.Equal(tt.want), "got %v", agg.DeliveredAt)
		})
	}
}

func TestPipeline_IngestAllChunks(t *testing.T) {
	mem := store.NewMemory()
	p := newTestPipeline(mem, Options{BatchSize: 2})

	res, err := p.IngestAll(context.Background(), ord1Batch())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 7, Inserted: 6, Duplicates: 1}, res)
}

func newRedis(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedisFromClient(client), mr
}

func TestPipeline_FingerprintCacheSkipsStore(t *testing.T) {
	rs, _ := newRedis(t)
	flaky := &flakyStore{MemoryStore: store.NewMemory()}
	p := newTestPipeline(flaky, Options{Cache: rs})
	ctx := context.Background()

	_, err := p.Ingest(ctx, ord1Batch())
	require.NoError(t, err)
	require.Equal(t, int64(1), flaky.rawCalls.Load())

	again, err := p.Ingest(ctx, ord1Batch())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 7, Duplicates: 7}, again)
	assert.Equal(t, int64(1), flaky.rawCalls.Load(), "fully cached batch should not reach the store")
}

func TestPipeline_CacheFailureFallsBackToStore(t *testing.T) {
	rs, mr := newRedis(t)
	mem := store.NewMemory()
	p := newTestPipeline(mem, Options{Cache: rs})
	mr.Close()

	res, err := p.Ingest(context.Background(), ord1Batch())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Inserted)
}

func TestMaterializer_LockHeldByOtherWriter(t *testing.T) {
	rs, _ := newRedis(t)
	mem := store.NewMemory()
	ctx := context.Background()

	_, ok, err := rs.LockOrder(ctx, "ORD-5", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	m := NewMaterializer(mem, rs, nil, fastRetry, metrics.New(), testLogger())
	err = m.Upsert(ctx, domain.OrderAggregate{OrderRef: "ORD-5"})
	assert.ErrorIs(t, err, ErrOrderLocked)

	agg, err := mem.GetOrderAggregate(ctx, "ORD-5")
	require.NoError(t, err)
	assert.Nil(t, agg)
}

func TestMaterializer_ReleasesLockAfterWrite(t *testing.T) {
	rs, mr := newRedis(t)
	mem := store.NewMemory()
	ctx := context.Background()

	m := NewMaterializer(mem, rs, nil, fastRetry, metrics.New(), testLogger())
	require.NoError(t, m.Upsert(ctx, domain.OrderAggregate{OrderRef: "ORD-6", RefundCount: 1}))
	require.NoError(t, m.Upsert(ctx, domain.OrderAggregate{OrderRef: "ORD-6", RefundCount: 2}))

	assert.False(t, mr.Exists("lock:order:ORD-6"))
	agg, err := mem.GetOrderAggregate(ctx, "ORD-6")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 2, agg.RefundCount)
}
