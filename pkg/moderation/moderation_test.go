package moderation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/peycheff/crewledger/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	items    []Item
	statuses map[string]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{statuses: map[string]string{}}
}

func key(kind Kind, id int64) string { return fmt.Sprintf("%s:%d", kind, id) }

func (f *fakeSource) ListPendingItems(_ context.Context, limit, offset int) ([]Item, error) {
	return f.items, nil
}

func (f *fakeSource) ItemStatus(_ context.Context, kind Kind, id int64) (string, error) {
	s, ok := f.statuses[key(kind, id)]
	if !ok {
		return "", errNotFound
	}
	return s, nil
}

func (f *fakeSource) SetItemStatus(_ context.Context, kind Kind, id int64, status string) error {
	f.statuses[key(kind, id)] = status
	return nil
}

var errNotFound = assertErr("not found")

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeAuditWriter struct{ entries []audit.Entry }

func (f *fakeAuditWriter) Append(_ context.Context, e audit.Entry) (int64, error) {
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

type fakeIdemStore struct {
	rows map[string]idempotency.Record
}

func newFakeIdemStore() *fakeIdemStore { return &fakeIdemStore{rows: map[string]idempotency.Record{}} }

func (f *fakeIdemStore) Insert(_ context.Context, k, scopeHash string, now time.Time) error {
	if _, ok := f.rows[k]; ok {
		return idempotency.ErrKeyExists
	}
	f.rows[k] = idempotency.Record{Key: k, ScopeHash: scopeHash, Status: "applied", CreatedAt: now}
	return nil
}

func (f *fakeIdemStore) Get(_ context.Context, k string) (idempotency.Record, bool, error) {
	r, ok := f.rows[k]
	return r, ok, nil
}

func newTestDeps(t *testing.T) (*audit.Logger, *metrics.Sink, *fakeAuditWriter) {
	writer := &fakeAuditWriter{}
	logger := audit.NewLogger(writer)
	sink := metrics.NewSink(t.TempDir())
	t.Cleanup(func() { sink.Close() })
	return logger, sink, writer
}

func TestSingle_ApprovePendingItemApplies(t *testing.T) {
	src := newFakeSource()
	src.statuses[key(KindTask, 1)] = "pending"
	logger, sink, writer := newTestDeps(t)

	res, err := Single(context.Background(), src, logger, sink, "foreman:2", KindTask, 1, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "applied", res.Status)
	assert.Equal(t, "approved", src.statuses[key(KindTask, 1)])
	require.Len(t, writer.entries, 1)
	assert.Equal(t, audit.OutcomeApplied, writer.entries[0].Outcome)
}

func TestSingle_ApproveAlreadyTerminalIsNoop(t *testing.T) {
	src := newFakeSource()
	src.statuses[key(KindTask, 1)] = "approved"
	logger, sink, _ := newTestDeps(t)

	res, err := Single(context.Background(), src, logger, sink, "foreman:2", KindTask, 1, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "noop", res.Status)
}

func TestSingle_UnknownItemReturnsNotFound(t *testing.T) {
	src := newFakeSource()
	logger, sink, _ := newTestDeps(t)

	_, err := Single(context.Background(), src, logger, sink, "foreman:2", KindTask, 99, ActionApprove)
	assert.Error(t, err)
}

func TestBulk_MixedOutcomes(t *testing.T) {
	src := newFakeSource()
	src.statuses[key(KindTask, 1)] = "pending"
	src.statuses[key(KindTask, 2)] = "approved"  // already terminal, same outcome => noop
	src.statuses[key(KindTask, 3)] = "rejected"  // terminal, different outcome => stale_state error
	logger, sink, _ := newTestDeps(t)
	guard := idempotency.New(newFakeIdemStore(), nil, 0)

	req := BulkRequest{Items: []BulkItem{{KindTask, 1}, {KindTask, 2}, {KindTask, 3}, {KindTask, 4}}}
	resp, err := Bulk(context.Background(), src, guard, logger, sink, "foreman:2", "bulk-key-1", req, ActionApprove, AllowedKindsFor(auth.RoleAdmin))
	require.NoError(t, err)

	assert.Equal(t, 2, resp.OK)    // item 1 applied, item 2 noop
	assert.Equal(t, 2, resp.Failed) // item 3 stale_state, item 4 not_found
	require.Len(t, resp.Results, 4)
	assert.Equal(t, "applied", resp.Results[0].Status)
	assert.Equal(t, "noop", resp.Results[1].Status)
	assert.Equal(t, "error", resp.Results[2].Status)
	assert.Equal(t, "stale_state", resp.Results[2].Error.Code)
	assert.Equal(t, "not_found", resp.Results[3].Error.Code)
}

func TestBulk_ReplayRejectedWithDuplicateKeyError(t *testing.T) {
	src := newFakeSource()
	src.statuses[key(KindTask, 1)] = "pending"
	logger, sink, _ := newTestDeps(t)
	guard := idempotency.New(newFakeIdemStore(), nil, 0)

	req := BulkRequest{Items: []BulkItem{{KindTask, 1}}}
	_, err := Bulk(context.Background(), src, guard, logger, sink, "foreman:2", "bulk-key-2", req, ActionApprove, AllowedKindsFor(auth.RoleAdmin))
	require.NoError(t, err)

	_, err = Bulk(context.Background(), src, guard, logger, sink, "foreman:2", "bulk-key-2", req, ActionApprove, AllowedKindsFor(auth.RoleAdmin))
	var dup *idempotency.ErrDuplicateKey
	assert.ErrorAs(t, err, &dup)
}
