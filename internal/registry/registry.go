package registry

import (
	"errors"
	"strconv"
	"sync"
)

// PaymentDetails — корреляционные данные последней попытки оплаты стола.
// ServiceID и SaleTransactionID генерируются на каждую новую попытку,
// POITransactionID присваивается терминалом в ответе
type PaymentDetails struct {
	ServiceID                string
	POITransactionID         string
	POITransactionTimestamp  string
	SaleTransactionID        string
	SaleTransactionTimestamp string
	RefusalReason            string
}

// Table представляет стол (кассовую линию) POS
// Name стабилен на всё время жизни процесса; мутабельны только Status и Details
type Table struct {
	Name     string
	Amount   float64
	Currency string
	Status   PaymentStatus
	Details  PaymentDetails
}

// ErrTableNotFound возвращается, когда стол не найден в реестре
var ErrTableNotFound = errors.New("table not found")

// entry хранит стол вместе с его мьютексом.
// Мьютекс сериализует все мутации статуса одного стола — и синхронный путь
// (gateway), и асинхронный (webhook) проходят через него
type entry struct {
	mu    sync.Mutex
	table Table
}

// Registry — in-memory реестр столов.
// Набор столов фиксируется при создании, добавление/удаление не поддерживается
type Registry struct {
	mu    sync.RWMutex
	order []string
	items map[string]*entry
}

// New создаёт реестр с переданным набором столов.
// Статус каждого стола инициализируется в NotPaid, если не указан
func New(tables []Table) *Registry {
	r := &Registry{
		order: make([]string, 0, len(tables)),
		items: make(map[string]*entry, len(tables)),
	}
	for _, t := range tables {
		if t.Status == "" {
			t.Status = StatusNotPaid
		}
		r.order = append(r.order, t.Name)
		r.items[t.Name] = &entry{table: t}
	}
	return r
}

// Seed создаёт реестр с фиксированным набором столов "Table 1".."Table N",
// сумма 22.22 * n EUR (как в демо витрине кассы)
func Seed(n int) *Registry {
	tables := make([]Table, 0, n)
	for i := 1; i <= n; i++ {
		tables = append(tables, Table{
			Name:     "Table " + strconv.Itoa(i),
			Amount:   22.22 * float64(i),
			Currency: "EUR",
			Status:   StatusNotPaid,
		})
	}
	return New(tables)
}

// Get возвращает снапшот стола по имени
func (r *Registry) Get(name string) (Table, error) {
	e, err := r.entry(name)
	if err != nil {
		return Table{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table, nil
}

// List возвращает снапшоты всех столов в порядке создания
func (r *Registry) List() []Table {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	out := make([]Table, 0, len(names))
	for _, name := range names {
		if t, err := r.Get(name); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Update атомарно применяет fn к столу под его мьютексом.
// Если fn возвращает ошибку, состояние стола остаётся нетронутым.
// Возвращает снапшот стола после применения (или текущий при ошибке)
func (r *Registry) Update(name string, fn func(t *Table) error) (Table, error) {
	e, err := r.entry(name)
	if err != nil {
		return Table{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.table
	if err := fn(&updated); err != nil {
		return e.table, err
	}
	e.table = updated
	return updated, nil
}

// UpdateBySaleTransactionID находит стол по SaleTransactionID последней попытки
// и атомарно применяет fn. Возвращает ErrTableNotFound, если ни один стол не
// ссылается на этот id — вызывающий решает, фатально это или нет
func (r *Registry) UpdateBySaleTransactionID(saleTransactionID string, fn func(t *Table) error) (Table, error) {
	if saleTransactionID == "" {
		return Table{}, ErrTableNotFound
	}

	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	for _, name := range names {
		e, err := r.entry(name)
		if err != nil {
			continue
		}
		e.mu.Lock()
		if e.table.Details.SaleTransactionID == saleTransactionID {
			updated := e.table
			if err := fn(&updated); err != nil {
				cur := e.table
				e.mu.Unlock()
				return cur, err
			}
			e.table = updated
			snapshot := updated
			e.mu.Unlock()
			return snapshot, nil
		}
		e.mu.Unlock()
	}
	return Table{}, ErrTableNotFound
}

func (r *Registry) entry(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return e, nil
}

