// ABOUTME: Observer subscriptions for session lifecycle notifications.
// ABOUTME: Subscribers run in subscription order; a panicking subscriber does not stop the rest.

package session

import "fmt"

// Hooks are the lifecycle callbacks a subscriber may set. Nil fields are
// skipped. Callbacks run synchronously on the goroutine that caused the
// transition and must not block.
type Hooks struct {
	OnConnect    func(info Info)
	OnDisconnect func(id string, reason DisconnectReason)
	OnError      func(id string, err error)
	OnActivity   func(id string)
}

type subscription struct {
	id    int
	hooks Hooks
}

// Subscribe registers hooks and returns a function that removes them.
func (m *Manager) Subscribe(h Hooks) (unsubscribe func()) {
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, hooks: h})
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(call func(Hooks)) {
	m.subMu.Lock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.subMu.Unlock()

	for _, s := range subs {
		m.invoke(s, call)
	}
}

func (m *Manager) invoke(s subscription, call func(Hooks)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session subscriber panicked",
				"subscription", s.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	call(s.hooks)
}
