package memory

import "sync"

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex выдаёт отдельный мьютекс на каждый ключ и освобождает его,
// когда ключ больше никто не ждёт.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
