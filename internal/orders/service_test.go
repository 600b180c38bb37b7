package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/profarm-erp/profarm-erp/internal/clients"
	"github.com/profarm-erp/profarm-erp/internal/shared"
	"github.com/profarm-erp/profarm-erp/internal/stock"
)

type memoryRepo struct {
	mu           sync.Mutex
	seq          map[int]int64
	clientsByTax map[string]clients.Client
	clientsByID  map[int64]clients.Client
	orders       map[string]*Order
	stock        map[int64]int64
	creditOrder  []int64
	nextClientID int64
	nextOrderID  int64
	nextItemID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		seq:          make(map[int]int64),
		clientsByTax: make(map[string]clients.Client),
		clientsByID:  make(map[int64]clients.Client),
		orders:       make(map[string]*Order),
		stock:        make(map[int64]int64),
	}
}

type repoSnapshot struct {
	seq    map[int]int64
	orders map[string]*Order
	stock  map[int64]int64
}

func (r *memoryRepo) snapshot() repoSnapshot {
	s := repoSnapshot{
		seq:    make(map[int]int64, len(r.seq)),
		orders: make(map[string]*Order, len(r.orders)),
		stock:  make(map[int64]int64, len(r.stock)),
	}
	for k, v := range r.seq {
		s.seq[k] = v
	}
	for k, v := range r.orders {
		cp := *v
		cp.Items = append([]LineItem(nil), v.Items...)
		s.orders[k] = &cp
	}
	for k, v := range r.stock {
		s.stock[k] = v
	}
	return s
}

// WithTx holds the lock for the whole callback, so concurrent transactions
// serialise exactly like row locks would, and restores the snapshot on
// error to mirror a rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.snapshot()
	if err := fn(&memoryTx{repo: r}); err != nil {
		r.seq, r.orders, r.stock = before.seq, before.orders, before.stock
		return err
	}
	return nil
}

func (r *memoryRepo) GetByNumber(ctx context.Context, number string) (OrderDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[number]
	if !ok {
		return OrderDetail{}, ErrNotFound
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	return OrderDetail{Order: cp, Client: r.clientsByID[o.ClientID]}, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]OrderSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OrderSummary
	for _, o := range r.orders {
		if filter.State != nil && o.State != *filter.State {
			continue
		}
		if filter.SellerID != nil && o.SellerID != *filter.SellerID {
			continue
		}
		out = append(out, OrderSummary{
			OrderNumber:  o.OrderNumber,
			ClientName:   r.clientsByID[o.ClientID].LegalName,
			SellerID:     o.SellerID,
			PaymentTerms: o.PaymentTerms,
			Total:        o.Total,
			State:        o.State,
			ItemCount:    len(o.Items),
			CreatedAt:    o.CreatedAt,
		})
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) NextOrderNumber(ctx context.Context, year int) (string, error) {
	t.repo.seq[year]++
	return fmt.Sprintf("NP-%d-%04d", year, t.repo.seq[year]), nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, o *Order) error {
	if _, exists := t.repo.orders[o.OrderNumber]; exists {
		return ErrConflict
	}
	t.repo.nextOrderID++
	o.ID = t.repo.nextOrderID
	cp := *o
	cp.Items = nil
	t.repo.orders[o.OrderNumber] = &cp
	return nil
}

func (t *memoryTx) InsertItems(ctx context.Context, orderID int64, items []LineItem) error {
	o := t.byID(orderID)
	if o == nil {
		return ErrNotFound
	}
	for i := range items {
		t.repo.nextItemID++
		items[i].ID = t.repo.nextItemID
		items[i].OrderID = orderID
		o.Items = append(o.Items, items[i])
	}
	return nil
}

func (t *memoryTx) DeleteItems(ctx context.Context, orderID int64) error {
	if o := t.byID(orderID); o != nil {
		o.Items = nil
	}
	return nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, number string) (Order, error) {
	o, ok := t.repo.orders[number]
	if !ok {
		return Order{}, ErrNotFound
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	return cp, nil
}

func (t *memoryTx) UpdateHeader(ctx context.Context, o Order) error {
	stored := t.byID(o.ID)
	if stored == nil {
		return ErrNotFound
	}
	items := stored.Items
	*stored = o
	stored.Items = items
	return nil
}

func (t *memoryTx) TransitionState(ctx context.Context, id int64, from, to OrderState, actorID int64, at time.Time) (bool, error) {
	o := t.byID(id)
	if o == nil || o.State != from {
		return false, nil
	}
	o.State = to
	switch to {
	case StateApproved:
		o.ApprovedAt, o.ApprovedBy = &at, &actorID
	case StateFinalized:
		o.FinalizedAt, o.FinalizedBy = &at, &actorID
	}
	return true, nil
}

func (t *memoryTx) UpsertClient(ctx context.Context, input clients.UpsertInput) (int64, error) {
	if c, ok := t.repo.clientsByTax[input.TaxID]; ok {
		c.LegalName, c.Phone, c.Address = input.LegalName, input.Phone, input.Address
		t.repo.clientsByTax[input.TaxID] = c
		t.repo.clientsByID[c.ID] = c
		return c.ID, nil
	}
	t.repo.nextClientID++
	c := clients.Client{ID: t.repo.nextClientID, TaxID: input.TaxID, LegalName: input.LegalName, Phone: input.Phone, Address: input.Address}
	t.repo.clientsByTax[input.TaxID] = c
	t.repo.clientsByID[c.ID] = c
	return c.ID, nil
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID, qty int64, ref string, actorID int64) error {
	available, ok := t.repo.stock[productID]
	if !ok {
		return stock.ErrUnknownProduct
	}
	if available < qty {
		return fmt.Errorf("%w: product %d has %d, need %d", stock.ErrInsufficientStock, productID, available, qty)
	}
	t.repo.stock[productID] = available - qty
	return nil
}

func (t *memoryTx) CreditStock(ctx context.Context, productID, qty int64, reason, ref string, actorID int64) error {
	t.repo.stock[productID] += qty
	t.repo.creditOrder = append(t.repo.creditOrder, productID)
	return nil
}

func (t *memoryTx) byID(id int64) *Order {
	for _, o := range t.repo.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

type memoryApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func newTestService(repo *memoryRepo) (*Service, *memoryApprovals) {
	approvals := &memoryApprovals{}
	svc := NewService(slog.Default(), repo, approvals, nil)
	return svc, approvals
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func validCreate() CreateOrderRequest {
	return CreateOrderRequest{
		Client: ClientInput{
			TaxID:     "30-12345678-9",
			LegalName: "Agro Sur SRL",
			Phone:     "+54 11 4000 0000",
			Address:   "Ruta 5 km 30",
		},
		Items: []LineItemInput{
			{ProductID: 1, Quantity: 5, UnitPrice: money(1000)},
		},
		PaymentTerms: PaymentNet30,
		Notes:        "entrega urgente",
		SellerID:     7,
	}
}

func TestCreateAssignsNumberAndTotal(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	year := time.Now().UTC().Year()

	res, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("NP-%d-0001", year), res.OrderNumber)
	require.Equal(t, StatePending, res.State)
	require.True(t, res.Total.Equal(money(5000)), "total %s", res.Total)

	res2, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("NP-%d-0002", year), res2.OrderNumber)

	detail, err := svc.Get(ctx, res.OrderNumber)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	require.Equal(t, "30123456789", detail.Client.TaxID)
	require.Equal(t, "Agro Sur SRL", detail.Client.LegalName)
}

func TestCreateSequenceRestartsPerYear(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	svc.now = func() time.Time { return time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC) }
	res, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, "NP-2025-0001", res.OrderNumber)

	svc.now = func() time.Time { return time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC) }
	res, err = svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, "NP-2026-0001", res.OrderNumber)
}

func TestCreateSharesClientAcrossOrders(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	// Same tax id with dashes stripped and a newer phone.
	req := validCreate()
	req.Client.TaxID = "30123456789"
	req.Client.Phone = "+54 11 5999 9999"
	second, err := svc.Create(ctx, req)
	require.NoError(t, err)

	d1, err := svc.Get(ctx, first.OrderNumber)
	require.NoError(t, err)
	d2, err := svc.Get(ctx, second.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, d1.Client.ID, d2.Client.ID)
	require.Equal(t, "+54 11 5999 9999", d1.Client.Phone)
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	req := validCreate()
	req.Items = nil
	_, err := svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = validCreate()
	req.Items[0].Quantity = 0
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = validCreate()
	req.Items[0].UnitPrice = money(-1)
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = validCreate()
	req.PaymentTerms = "NET_45"
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = validCreate()
	req.Client.TaxID = "no-digits"
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrValidation)
}

func TestApproveConsumesStock(t *testing.T) {
	repo := newMemoryRepo()
	svc, approvals := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	res, err := svc.Approve(ctx, created.OrderNumber, 42)
	require.NoError(t, err)
	require.Equal(t, StateApproved, res.State)
	require.Equal(t, int64(5), repo.stock[1])

	detail, err := svc.Get(ctx, created.OrderNumber)
	require.NoError(t, err)
	require.NotNil(t, detail.ApprovedAt)
	require.NotNil(t, detail.ApprovedBy)
	require.Equal(t, int64(42), *detail.ApprovedBy)

	logs, err := approvals.List(ctx, shared.ModuleOrders, shared.OrderRef(created.OrderNumber))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, shared.ApprovalApprove, logs[0].Action)
}

func TestApproveInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 3

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	_, err = svc.Approve(ctx, created.OrderNumber, 42)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Equal(t, int64(3), repo.stock[1])

	detail, err := svc.Get(ctx, created.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, StatePending, detail.State)
	require.Nil(t, detail.ApprovedAt)
}

func TestApprovePartialCoverageConsumesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10
	repo.stock[2] = 1

	req := validCreate()
	req.Items = append(req.Items, LineItemInput{ProductID: 2, Quantity: 4, UnitPrice: money(200)})
	created, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, created.OrderNumber, 42)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Equal(t, int64(10), repo.stock[1])
	require.Equal(t, int64(1), repo.stock[2])
}

func TestFinalizeRequiresApproved(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, created.OrderNumber, 42)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Approve(ctx, created.OrderNumber, 42)
	require.NoError(t, err)

	res, err := svc.Finalize(ctx, created.OrderNumber, 42)
	require.NoError(t, err)
	require.Equal(t, StateFinalized, res.State)

	// Terminal: no further transitions or edits.
	_, err = svc.Approve(ctx, created.OrderNumber, 42)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Edit(ctx, created.OrderNumber, editRequest(), 42)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectRequiresPending(t *testing.T) {
	repo := newMemoryRepo()
	svc, approvals := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	res, err := svc.Reject(ctx, created.OrderNumber, 42, "sin credito")
	require.NoError(t, err)
	require.Equal(t, StateRejected, res.State)
	require.Equal(t, int64(10), repo.stock[1])

	_, err = svc.Reject(ctx, created.OrderNumber, 42, "again")
	require.ErrorIs(t, err, ErrInvalidTransition)

	logs, err := approvals.List(ctx, shared.ModuleOrders, shared.OrderRef(created.OrderNumber))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "sin credito", logs[0].Note)
}

func editRequest() EditOrderRequest {
	return EditOrderRequest{
		Client: ClientInput{
			TaxID:     "30-12345678-9",
			LegalName: "Agro Sur SRL",
		},
		Items: []LineItemInput{
			{ProductID: 1, Quantity: 8, UnitPrice: money(1000)},
		},
		PaymentTerms: PaymentCash,
	}
}

func TestEditApprovedResetsToPendingAndRestoresStock(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, created.OrderNumber, 42)
	require.NoError(t, err)
	require.Equal(t, int64(5), repo.stock[1])

	res, err := svc.Edit(ctx, created.OrderNumber, editRequest(), 42)
	require.NoError(t, err)
	require.Equal(t, StatePending, res.State)
	require.True(t, res.StateChanged)
	require.True(t, res.TotalChanged)
	require.True(t, res.Total.Equal(money(8000)), "total %s", res.Total)

	// Approval consumption returned.
	require.Equal(t, int64(10), repo.stock[1])

	detail, err := svc.Get(ctx, created.OrderNumber)
	require.NoError(t, err)
	require.Nil(t, detail.ApprovedAt)
	require.Nil(t, detail.ApprovedBy)
	require.Equal(t, PaymentCash, detail.PaymentTerms)
	require.Len(t, detail.Items, 1)
	require.Equal(t, int64(8), detail.Items[0].Quantity)
}

func TestEditPendingKeepsState(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	req := editRequest()
	req.Items[0].Quantity = 5
	res, err := svc.Edit(ctx, created.OrderNumber, req, 42)
	require.NoError(t, err)
	require.Equal(t, StatePending, res.State)
	require.False(t, res.StateChanged)
	require.False(t, res.TotalChanged)
}

func TestEditRejectedReturnsToPending(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Reject(ctx, created.OrderNumber, 42, "")
	require.NoError(t, err)

	res, err := svc.Edit(ctx, created.OrderNumber, editRequest(), 42)
	require.NoError(t, err)
	require.Equal(t, StatePending, res.State)
	require.True(t, res.StateChanged)
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Approve(ctx, created.OrderNumber, int64(100+i))
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition)
			lost++
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)
	// Stock consumed exactly once.
	require.Equal(t, int64(5), repo.stock[1])
}

func TestConcurrentCreateBothSucceed(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]CreateOrderResult, 2)
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Create(ctx, validCreate())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, results[0].OrderNumber, results[1].OrderNumber)

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

// conflictingRepo fails the first transactions with a retryable conflict,
// the way a serialization failure surfaces from storage.
type conflictingRepo struct {
	Repository
	failures int
}

func (r *conflictingRepo) WithTx(ctx context.Context, fn func(TxRepository) error) error {
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("%w: could not serialize access due to concurrent update", ErrConflict)
	}
	return r.Repository.WithTx(ctx, fn)
}

func TestCreateRetriesOnSerializationConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	svc.repo = &conflictingRepo{Repository: repo, failures: 1}
	ctx := context.Background()

	res, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, StatePending, res.State)

	// Two consecutive conflicts exhaust the single retry.
	svc.repo = &conflictingRepo{Repository: repo, failures: 2}
	_, err = svc.Create(ctx, validCreate())
	require.ErrorIs(t, err, ErrConflict)
}

func TestEditApprovedCreditsInAscendingProductOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 10
	repo.stock[2] = 10
	repo.stock[3] = 10

	req := validCreate()
	req.Items = []LineItemInput{
		{ProductID: 3, Quantity: 1, UnitPrice: money(100)},
		{ProductID: 1, Quantity: 2, UnitPrice: money(100)},
		{ProductID: 2, Quantity: 3, UnitPrice: money(100)},
	}
	created, err := svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, created.OrderNumber, 42)
	require.NoError(t, err)

	_, err = svc.Edit(ctx, created.OrderNumber, editRequest(), 42)
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2, 3}, repo.creditOrder)
	require.Equal(t, int64(10), repo.stock[2])
	require.Equal(t, int64(10), repo.stock[3])
}

func TestGetUnknownOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	_, err := svc.Get(context.Background(), "NP-2026-9999")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Approve(context.Background(), "NP-2026-9999", 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.stock[1] = 100

	first, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, first.OrderNumber, 42)
	require.NoError(t, err)

	approved := StateApproved
	got, err := svc.List(ctx, ListFilter{State: &approved})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, first.OrderNumber, got[0].OrderNumber)

	all, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
