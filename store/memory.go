package store

import (
	"context"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store. It is the default backend and the one the
// test suite runs against.
type Memory struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	creds map[string]*Credential
	uacls map[string][]ACLRecord
	gacls map[string][]ACLRecord
}

func NewMemory() *Memory {
	return NewMemoryWithClock(clockwork.NewRealClock())
}

func NewMemoryWithClock(clock clockwork.Clock) *Memory {
	return &Memory{
		clock: clock,
		creds: make(map[string]*Credential),
		uacls: make(map[string][]ACLRecord),
		gacls: make(map[string][]ACLRecord),
	}
}

func (m *Memory) Get(_ context.Context, handle string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[strings.ToLower(handle)]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.ACLs = append([]string(nil), c.ACLs...)
	return &cp, nil
}

func (m *Memory) Add(_ context.Context, handle, hash, gecos string, acls []string) error {
	handle = strings.ToLower(handle)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[handle]; ok {
		return ErrHandleExists
	}
	m.creds[handle] = &Credential{
		Handle: handle,
		Hash:   hash,
		Gecos:  gecos,
		ACLs:   append([]string(nil), acls...),
	}
	return nil
}

func (m *Memory) UserACL(_ context.Context, handle string) ([]ACLRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ACLRecord(nil), m.uacls[strings.ToLower(handle)]...), nil
}

func (m *Memory) GroupACL(_ context.Context, group string) ([]ACLRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ACLRecord(nil), m.gacls[strings.ToLower(group)]...), nil
}

func (m *Memory) AddUserACL(_ context.Context, handle, acl, setter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(handle)
	m.uacls[key] = addRecord(m.uacls[key], acl, setter, m.clock.Now().Unix())
	return nil
}

func (m *Memory) DelUserACL(_ context.Context, handle, acl string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(handle)
	m.uacls[key] = delRecord(m.uacls[key], acl)
	return nil
}

func (m *Memory) AddGroupACL(_ context.Context, group, acl, setter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(group)
	m.gacls[key] = addRecord(m.gacls[key], acl, setter, m.clock.Now().Unix())
	return nil
}

func (m *Memory) DelGroupACL(_ context.Context, group, acl string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(group)
	m.gacls[key] = delRecord(m.gacls[key], acl)
	return nil
}

func (m *Memory) Close() error { return nil }

func addRecord(recs []ACLRecord, acl, setter string, now int64) []ACLRecord {
	recs = delRecord(recs, acl)
	return append(recs, ACLRecord{ACL: strings.ToLower(acl), Timestamp: now, Setter: setter})
}

func delRecord(recs []ACLRecord, acl string) []ACLRecord {
	acl = strings.ToLower(acl)
	out := recs[:0]
	for _, r := range recs {
		if r.ACL != acl {
			out = append(out, r)
		}
	}
	return out
}
