package invoice_test

import (
	"context"
	"testing"
	"time"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/forbidden"
	"github.com/peycheff/crewledger/pkg/idempotency"
	. "github.com/peycheff/crewledger/pkg/invoice"
	"github.com/peycheff/crewledger/pkg/metrics"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/peycheff/crewledger/pkg/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesPath = "../../rules/global.yaml"

type fakeStore struct {
	approved    []ApprovedItem
	invoices    map[int64]Invoice
	items       map[int64][]Item
	tokens      map[string]int64 // hash -> invoice id, removed once consumed
	suggestions map[int64]Suggestion
	versions    int
	nextID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		invoices:    map[int64]Invoice{},
		items:       map[int64][]Item{},
		tokens:      map[string]int64{},
		suggestions: map[int64]Suggestion{},
	}
}

func (f *fakeStore) newID() int64 { f.nextID++; return f.nextID }

func (f *fakeStore) ApprovedItems(_ context.Context, _ int64, _, _ time.Time) ([]ApprovedItem, error) {
	return f.approved, nil
}

func (f *fakeStore) CreateInvoice(_ context.Context, inv Invoice) (int64, error) {
	id := f.newID()
	inv.ID = id
	inv.Status = "draft"
	inv.Version = 1
	f.invoices[id] = inv
	return id, nil
}

func (f *fakeStore) GetInvoice(_ context.Context, invoiceID int64) (Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return Invoice{}, assertErr("not found")
	}
	return inv, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func (f *fakeStore) InsertItem(_ context.Context, invoiceID int64, item Item) (int64, error) {
	id := f.newID()
	item.ID = id
	f.items[invoiceID] = append(f.items[invoiceID], item)
	return id, nil
}

func (f *fakeStore) ListItems(_ context.Context, invoiceID int64) ([]Item, error) {
	return f.items[invoiceID], nil
}

func (f *fakeStore) UpdateTotals(_ context.Context, invoiceID int64, subtotal, total money.Amount, version int) error {
	inv := f.invoices[invoiceID]
	inv.Subtotal = subtotal
	inv.Total = total
	inv.Version = version
	f.invoices[invoiceID] = inv
	return nil
}

func (f *fakeStore) SetInvoiceStatus(_ context.Context, invoiceID int64, status string) error {
	inv := f.invoices[invoiceID]
	inv.Status = status
	f.invoices[invoiceID] = inv
	return nil
}

func (f *fakeStore) IssuePreviewToken(_ context.Context, invoiceID int64, tokenHash string) error {
	for h, id := range f.tokens {
		if id == invoiceID {
			delete(f.tokens, h)
		}
	}
	f.tokens[tokenHash] = invoiceID
	return nil
}

func (f *fakeStore) ConsumePreviewToken(_ context.Context, tokenHash string) (int64, bool, error) {
	id, ok := f.tokens[tokenHash]
	if !ok {
		return 0, false, nil
	}
	delete(f.tokens, tokenHash)
	return id, true, nil
}

func (f *fakeStore) InsertSuggestion(_ context.Context, s Suggestion) (int64, error) {
	id := f.newID()
	s.ID = id
	s.Status = "open"
	f.suggestions[id] = s
	return id, nil
}

func (f *fakeStore) GetSuggestions(_ context.Context, ids []int64) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(ids))
	for _, id := range ids {
		s, ok := f.suggestions[id]
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) SetSuggestionStatus(_ context.Context, suggestionID int64, status string) error {
	s := f.suggestions[suggestionID]
	s.Status = status
	f.suggestions[suggestionID] = s
	return nil
}

func (f *fakeStore) InsertVersion(_ context.Context, _ int64, _ int, _, _ string) error {
	f.versions++
	return nil
}

type fakeIdemStore struct{ rows map[string]idempotency.Record }

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

type fakeAuditWriter struct{ entries []audit.Entry }

func (f *fakeAuditWriter) Append(_ context.Context, e audit.Entry) (int64, error) {
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

func newTestDeps(t *testing.T) (*audit.Logger, *metrics.Sink) {
	logger := audit.NewLogger(&fakeAuditWriter{})
	sink := metrics.NewSink(t.TempDir())
	t.Cleanup(func() { sink.Close() })
	return logger, sink
}

func TestBuild_AssemblesAndPricesApprovedItems(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	qty, _ := money.Parse("2.0")
	amt, _ := money.Parse("123.45")

	st := newFakeStore()
	st.approved = []ApprovedItem{
		{Kind: "task", ID: 1, RateCode: "hour_electric", Qty: qty, Worker: "Dana"},
		{Kind: "expense", ID: 2, RateCode: "fuel", Amount: amt, Worker: "Dana"},
	}
	logger, sink := newTestDeps(t)
	guard := idempotency.New(newFakeIdemStore(), nil, 0)

	inv, err := Build(context.Background(), st, rules, guard, logger, sink, "admin:1", "build-key-1", BuildRequest{
		ClientID:   7,
		PeriodFrom: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		Currency:   "ILS",
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", inv.Status)
	assert.Equal(t, 1, inv.Version)
	assert.Equal(t, "1723.45", inv.Subtotal.Decimal()) // 1600.00 + 123.45
	assert.True(t, inv.Subtotal.Equal(inv.Total))

	items := st.items[inv.ID]
	require.Len(t, items, 2)
}

func TestBuild_ReplayRejectedWithDuplicateKeyError(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	st := newFakeStore()
	logger, sink := newTestDeps(t)
	guard := idempotency.New(newFakeIdemStore(), nil, 0)

	req := BuildRequest{ClientID: 7, PeriodFrom: time.Now(), PeriodTo: time.Now()}
	_, err = Build(context.Background(), st, rules, guard, logger, sink, "admin:1", "build-key-2", req)
	require.NoError(t, err)

	_, err = Build(context.Background(), st, rules, guard, logger, sink, "admin:1", "build-key-2", req)
	var dup *idempotency.ErrDuplicateKey
	assert.ErrorAs(t, err, &dup)
}

func TestPreview_IssueThenFetchOnceThenGone(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, _ := newTestDeps(t)

	token, err := PreviewIssue(context.Background(), st, logger, "admin:1", id)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	inv, _, err := PreviewFetch(context.Background(), st, token)
	require.NoError(t, err)
	assert.Equal(t, id, inv.ID)

	_, _, err = PreviewFetch(context.Background(), st, token)
	assert.ErrorIs(t, err, ErrGone)
}

func TestPreview_ReissueInvalidatesPreviousToken(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, _ := newTestDeps(t)

	first, err := PreviewIssue(context.Background(), st, logger, "admin:1", id)
	require.NoError(t, err)
	_, err = PreviewIssue(context.Background(), st, logger, "admin:1", id)
	require.NoError(t, err)

	_, _, err = PreviewFetch(context.Background(), st, first)
	assert.ErrorIs(t, err, ErrGone)
}

func TestSuggestChange_ForbiddenKindRejectedBeforeRowCreated(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	_, err := SuggestChange(context.Background(), st, logger, sink, "admin:1", SuggestRequest{InvoiceID: id, Kind: forbidden.KindDeleteItem, Payload: map[string]any{}})
	assert.ErrorIs(t, err, ErrForbiddenOp)
	assert.Empty(t, st.suggestions)
}

func TestSuggestChange_AllowedKindCreatesOpenSuggestion(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	s, err := SuggestChange(context.Background(), st, logger, sink, "admin:1", SuggestRequest{InvoiceID: id, Kind: "add_item", Payload: map[string]any{"description": "extra", "amount": "10.00"}})
	require.NoError(t, err)
	assert.Equal(t, "open", s.Status)
}

func TestApplySuggestions_ForbiddenKindBlocksWholeBatch(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	sid, _ := st.InsertSuggestion(context.Background(), Suggestion{InvoiceID: id, Kind: forbidden.KindUpdateTotal, Payload: map[string]any{}})

	_, err := ApplySuggestions(context.Background(), st, logger, sink, "admin:1", ApplyRequest{InvoiceID: id, SuggestionIDs: []int64{sid}})
	assert.ErrorIs(t, err, ErrForbiddenOp)
	assert.Equal(t, 0, st.versions)
}

func TestApplySuggestions_AddItemRecomputesTotalsAndBumpsVersion(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	sid, _ := st.InsertSuggestion(context.Background(), Suggestion{InvoiceID: id, Kind: "add_item", Payload: map[string]any{"description": "extra", "amount": "50.00"}})

	res, err := ApplySuggestions(context.Background(), st, logger, sink, "admin:1", ApplyRequest{InvoiceID: id, SuggestionIDs: []int64{sid}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewVersion)
	assert.Equal(t, 1, st.versions)

	inv, _ := st.GetInvoice(context.Background(), id)
	assert.Equal(t, "50.00", inv.Subtotal.Decimal())
	assert.Equal(t, "applied", st.suggestions[sid].Status)
}

func TestSetStatus_FullLifecycle(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	inv, changed, err := SetStatus(context.Background(), st, logger, sink, "admin:1", id, "issued")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "issued", inv.Status)

	inv, changed, err = SetStatus(context.Background(), st, logger, sink, "admin:1", id, "issued")
	require.NoError(t, err)
	assert.False(t, changed, "re-issue must be a noop")
	assert.Equal(t, "issued", inv.Status)

	inv, changed, err = SetStatus(context.Background(), st, logger, sink, "admin:1", id, "paid")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "paid", inv.Status)

	_, _, err = SetStatus(context.Background(), st, logger, sink, "admin:1", id, "cancelled")
	assert.ErrorIs(t, err, ErrStaleState, "cancelling a paid (terminal) invoice must be rejected")
}

func TestSetStatus_CancelFromDraftAllowed(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	inv, changed, err := SetStatus(context.Background(), st, logger, sink, "admin:1", id, "cancelled")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "cancelled", inv.Status)
}

func TestSetStatus_IssueSkippingDraftRejected(t *testing.T) {
	st := newFakeStore()
	id, _ := st.CreateInvoice(context.Background(), Invoice{ClientID: 1, Subtotal: money.Zero(), Total: money.Zero()})
	logger, sink := newTestDeps(t)

	_, _, err := SetStatus(context.Background(), st, logger, sink, "admin:1", id, "paid")
	assert.ErrorIs(t, err, ErrStaleState)
}
