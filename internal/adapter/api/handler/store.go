package handler

import "sync"

// User is a demo customer.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Order is a demo order.
type Order struct {
	ID       int    `json:"id"`
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// Store holds the demo shop's state. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	users    []User
	orders   []Order
	products []string
}

// NewStore creates a store with the given contents.
func NewStore(users []User, orders []Order, products []string) *Store {
	return &Store{
		users:    append([]User(nil), users...),
		orders:   append([]Order(nil), orders...),
		products: append([]string(nil), products...),
	}
}

// NewSeededStore creates a store with the demo data set.
func NewSeededStore() *Store {
	return NewStore(
		[]User{
			{ID: 1, Name: "akshay"},
			{ID: 2, Name: "adarsh"},
			{ID: 3, Name: "abhinav"},
			{ID: 4, Name: "abhijan"},
		},
		[]Order{
			{ID: 1, Product: "Laptop", Quantity: 2},
			{ID: 2, Product: "TV", Quantity: 1},
		},
		[]string{"laptop", "TV", "Phone", "Bag"},
	)
}

func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]User(nil), s.users...)
}

func (s *Store) User(id int) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func (s *Store) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Order(nil), s.orders...)
}

func (s *Store) Order(id int) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

func (s *Store) Products() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.products...)
}

// CreateOrder appends an order with the next sequential id.
func (s *Store) CreateOrder(product string, quantity int) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := Order{ID: len(s.orders) + 1, Product: product, Quantity: quantity}
	s.orders = append(s.orders, o)
	return o
}
