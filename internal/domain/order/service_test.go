package order

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firehorse/bookstore/internal/domain/book"
	"github.com/firehorse/bookstore/internal/domain/cart"
)

// --- Mock implementations ---

// memBookRepo is an in-memory book.Repository. The mutex makes it safe for
// the concurrent placement test.
type memBookRepo struct {
	mu   sync.Mutex
	byID map[int64]*book.Book
}

func newBookRepo(books ...book.Book) *memBookRepo {
	byID := make(map[int64]*book.Book, len(books))
	for i := range books {
		b := books[i]
		byID[b.ID] = &b
	}
	return &memBookRepo{byID: byID}
}

func (m *memBookRepo) List(_ context.Context) ([]book.Book, error)             { return nil, nil }
func (m *memBookRepo) Search(_ context.Context, _ string) ([]book.Book, error) { return nil, nil }
func (m *memBookRepo) Create(_ context.Context, _ *book.Book) error            { return nil }
func (m *memBookRepo) Delete(_ context.Context, _ int64) error                 { return nil }

func (m *memBookRepo) GetByID(_ context.Context, id int64) (*book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, book.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBookRepo) LockByIDs(_ context.Context, ids []int64) ([]book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []book.Book
	for _, id := range sorted {
		if b, ok := m.byID[id]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookRepo) UpdateStock(_ context.Context, id int64, stock int) (*book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, book.ErrNotFound
	}
	b.Stock = stock
	cp := *b
	return &cp, nil
}

func (m *memBookRepo) DecrementStock(_ context.Context, id int64, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return book.ErrNotFound
	}
	if b.Stock < amount {
		return &book.InsufficientStockError{
			BookID:    b.ID,
			Title:     b.Title,
			Available: b.Stock,
			Requested: amount,
		}
	}
	b.Stock -= amount
	return nil
}

func (m *memBookRepo) stock(t *testing.T, id int64) int {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	require.True(t, ok)
	return b.Stock
}

func (m *memBookRepo) setPrice(id int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].Price = price
}

// memCartRepo is an in-memory cart.Repository. afterList, when set, runs once
// right after ListByUser, emulating a concurrent cart write landing between
// the placement's cart read and its cart clear.
type memCartRepo struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]*cart.Item
	afterList func()
}

func newCartRepo() *memCartRepo {
	return &memCartRepo{items: make(map[int64]*cart.Item)}
}

func (m *memCartRepo) add(userID, bookID int64, quantity int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.items[m.nextID] = &cart.Item{
		ID:       m.nextID,
		UserID:   userID,
		BookID:   bookID,
		Quantity: quantity,
	}
	return m.nextID
}

func (m *memCartRepo) ListByUser(_ context.Context, userID int64) ([]cart.Item, error) {
	m.mu.Lock()
	var out []cart.Item
	for _, item := range m.items {
		if item.UserID == userID {
			out = append(out, *item)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if m.afterList != nil {
		fn := m.afterList
		m.afterList = nil
		fn()
	}
	return out, nil
}

func (m *memCartRepo) GetByID(_ context.Context, id int64) (*cart.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, cart.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *memCartRepo) Upsert(_ context.Context, item *cart.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.UserID == item.UserID && existing.BookID == item.BookID {
			existing.Quantity += item.Quantity
			*item = *existing
			return nil
		}
	}
	m.nextID++
	item.ID = m.nextID
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *memCartRepo) UpdateQuantity(_ context.Context, id int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return cart.ErrItemNotFound
	}
	item.Quantity = quantity
	return nil
}

func (m *memCartRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return cart.ErrItemNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memCartRepo) DeleteByIDs(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.items, id)
	}
	return nil
}

func (m *memCartRepo) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		if item.UserID == userID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memCartRepo) count(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.UserID == userID {
			n++
		}
	}
	return n
}

// memOrderRepo is an in-memory order Repository.
type memOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*Order
}

func newOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[int64]*Order)}
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	return &cp, nil
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			cp.Lines = append([]Line(nil), o.Lines...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	return nil
}

func (m *memOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// mutexTx serializes transactions with a single mutex, standing in for the
// row locks a real database takes: the second of two concurrent placements
// observes the first one's writes.
type mutexTx struct {
	mu sync.Mutex
}

func (t *mutexTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

// --- Helpers ---

func newTestBook(id int64, title, price string, stock int) book.Book {
	return book.Book{
		ID:    id,
		Title: title,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func newTestService(books *memBookRepo, carts *memCartRepo, orders *memOrderRepo) *Service {
	return NewService(books, carts, orders, &mutexTx{})
}

// --- Tests ---

func TestPlaceOrder_EmptyCart(t *testing.T) {
	svc := newTestService(newBookRepo(), newCartRepo(), newOrderRepo())

	_, err := svc.PlaceOrder(context.Background(), 1)
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_Success(t *testing.T) {
	books := newBookRepo(
		newTestBook(1, "Dune", "12.99", 10),
		newTestBook(2, "Solaris", "9.50", 5),
	)
	carts := newCartRepo()
	carts.add(1, 1, 2)
	carts.add(1, 2, 3)
	orders := newOrderRepo()

	svc := newTestService(books, carts, orders)

	o, err := svc.PlaceOrder(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), o.UserID)
	assert.Equal(t, StatusPending, o.Status)
	require.Len(t, o.Lines, 2)

	assert.Equal(t, "Dune", o.Lines[0].Title)
	assert.True(t, o.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.99")))
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, "Solaris", o.Lines[1].Title)
	assert.Equal(t, 3, o.Lines[1].Quantity)

	// 2*12.99 + 3*9.50 = 54.48
	assert.True(t, o.Total.Equal(decimal.RequireFromString("54.48")),
		"total = %s", o.Total)

	assert.Equal(t, 8, books.stock(t, 1))
	assert.Equal(t, 2, books.stock(t, 2))
	assert.Zero(t, carts.count(1), "cart should be emptied")
}

func TestPlaceOrder_TotalIsSumOfSubtotals(t *testing.T) {
	books := newBookRepo(
		newTestBook(1, "A", "0.10", 100),
		newTestBook(2, "B", "0.20", 100),
		newTestBook(3, "C", "19.99", 100),
	)
	carts := newCartRepo()
	carts.add(7, 1, 3)
	carts.add(7, 2, 1)
	carts.add(7, 3, 2)

	svc := newTestService(books, carts, newOrderRepo())

	o, err := svc.PlaceOrder(context.Background(), 7)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, line := range o.Lines {
		sum = sum.Add(line.Subtotal())
	}
	assert.True(t, o.Total.Equal(sum))
	assert.True(t, o.Total.Equal(decimal.RequireFromString("40.48")), "total = %s", o.Total)
}

func TestPlaceOrder_InsufficientStock_NoSideEffects(t *testing.T) {
	books := newBookRepo(
		newTestBook(1, "Dune", "12.99", 10),
		newTestBook(2, "Solaris", "9.50", 1),
	)
	carts := newCartRepo()
	carts.add(1, 1, 2)
	carts.add(1, 2, 3) // only 1 in stock
	orders := newOrderRepo()

	svc := newTestService(books, carts, orders)

	_, err := svc.PlaceOrder(context.Background(), 1)

	var stockErr *book.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.BookID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	// The first line validated fine, but nothing may have been touched.
	assert.Equal(t, 10, books.stock(t, 1))
	assert.Equal(t, 1, books.stock(t, 2))
	assert.Equal(t, 2, carts.count(1))
	assert.Zero(t, orders.count())
}

func TestPlaceOrder_BookGone(t *testing.T) {
	books := newBookRepo(newTestBook(1, "Dune", "12.99", 10))
	carts := newCartRepo()
	carts.add(1, 1, 1)
	carts.add(1, 42, 1) // deleted from the catalog after it was added
	orders := newOrderRepo()

	svc := newTestService(books, carts, orders)

	_, err := svc.PlaceOrder(context.Background(), 1)

	var notFound *BookNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(42), notFound.BookID)

	assert.Equal(t, 10, books.stock(t, 1))
	assert.Equal(t, 2, carts.count(1))
	assert.Zero(t, orders.count())
}

func TestPlaceOrder_PriceSnapshotSurvivesCatalogChange(t *testing.T) {
	books := newBookRepo(newTestBook(1, "Dune", "12.99", 10))
	carts := newCartRepo()
	carts.add(1, 1, 2)
	orders := newOrderRepo()

	svc := newTestService(books, carts, orders)

	o, err := svc.PlaceOrder(context.Background(), 1)
	require.NoError(t, err)

	books.setPrice(1, decimal.RequireFromString("99.99"))

	stored, err := orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.99")))
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("25.98")))
}

func TestPlaceOrder_KeepsItemsAddedDuringPlacement(t *testing.T) {
	books := newBookRepo(
		newTestBook(1, "Dune", "12.99", 10),
		newTestBook(2, "Solaris", "9.50", 10),
	)
	carts := newCartRepo()
	carts.add(1, 1, 1)
	// A second device adds to the cart right after placement reads it.
	carts.afterList = func() { carts.add(1, 2, 1) }

	svc := newTestService(books, carts, newOrderRepo())

	o, err := svc.PlaceOrder(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)

	// Only the consumed row is gone; the late addition survives.
	assert.Equal(t, 1, carts.count(1))
	assert.Equal(t, 10, books.stock(t, 2))
}

func TestPlaceOrder_DoesNotTouchOtherCarts(t *testing.T) {
	books := newBookRepo(newTestBook(1, "Dune", "12.99", 10))
	carts := newCartRepo()
	carts.add(1, 1, 1)
	carts.add(2, 1, 4)

	svc := newTestService(books, carts, newOrderRepo())

	_, err := svc.PlaceOrder(context.Background(), 1)
	require.NoError(t, err)

	assert.Zero(t, carts.count(1))
	assert.Equal(t, 1, carts.count(2))
}

func TestPlaceOrder_ConcurrentPlacements(t *testing.T) {
	// Two users race for a book with 3 copies, wanting 2 each. Exactly one
	// placement can win; the loser must fail cleanly with its cart intact.
	books := newBookRepo(newTestBook(1, "Dune", "12.99", 3))
	carts := newCartRepo()
	carts.add(1, 1, 2)
	carts.add(2, 1, 2)
	orders := newOrderRepo()

	svc := newTestService(books, carts, orders)

	errs := make(chan error, 2)
	for _, userID := range []int64{1, 2} {
		go func(userID int64) {
			_, err := svc.PlaceOrder(context.Background(), userID)
			errs <- err
		}(userID)
	}

	var failures []error
	for range 2 {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}

	require.Len(t, failures, 1, "exactly one placement must fail")
	var stockErr *book.InsufficientStockError
	require.ErrorAs(t, failures[0], &stockErr)
	assert.Equal(t, 2, stockErr.Requested)

	assert.Equal(t, 1, books.stock(t, 1))
	assert.Equal(t, 1, orders.count())
	assert.Equal(t, 1, carts.count(1)+carts.count(2), "loser keeps their cart")
}

func TestListByUser_NewestFirst(t *testing.T) {
	books := newBookRepo(newTestBook(1, "Dune", "12.99", 10))
	carts := newCartRepo()
	orders := newOrderRepo()
	svc := newTestService(books, carts, orders)

	for range 3 {
		carts.add(1, 1, 1)
		_, err := svc.PlaceOrder(context.Background(), 1)
		require.NoError(t, err)
	}

	got, err := svc.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Greater(t, got[0].ID, got[1].ID)
	assert.Greater(t, got[1].ID, got[2].ID)
}

func TestUpdateStatus(t *testing.T) {
	books := newBookRepo(newTestBook(1, "Dune", "12.99", 10))
	carts := newCartRepo()
	carts.add(1, 1, 1)
	orders := newOrderRepo()
	svc := newTestService(books, carts, orders)

	o, err := svc.PlaceOrder(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(context.Background(), o.ID, StatusFulfilled))

	stored, err := orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, stored.Status)

	// Fulfilled is terminal.
	err = svc.UpdateStatus(context.Background(), o.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	svc := newTestService(newBookRepo(), newCartRepo(), newOrderRepo())

	err := svc.UpdateStatus(context.Background(), 1, Status("shipped"))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_OrderNotFound(t *testing.T) {
	svc := newTestService(newBookRepo(), newCartRepo(), newOrderRepo())

	err := svc.UpdateStatus(context.Background(), 404, StatusCancelled)
	require.ErrorIs(t, err, ErrNotFound)
}
