// Package keylock реализует набор мьютексов по строковому ключу.
// Используется для сериализации переходов по одному заказу и
// provisioning-вызовов по одному аккаунту: операции с разными ключами
// идут параллельно, с одним ключом — строго по очереди.
package keylock

import "sync"

// KeyLock хранит мьютексы по ключам. Нулевое значение непригодно,
// создавать через New.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New создаёт пустой KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock захватывает мьютекс для ключа, создавая его при необходимости.
func (k *KeyLock) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock освобождает мьютекс ключа. Запись удаляется, когда ключ
// больше никем не удерживается и не ожидается.
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
