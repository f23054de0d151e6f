// Package store holds registered handles and their ACL records. The server
// core only depends on the Store interface; backends may block on disk or
// network, so every call takes a context.
package store

import (
	"context"
	"errors"
)

// Credential is one registered handle. Hash is a salted password hash in
// bcrypt's portable crypt format.
type Credential struct {
	Handle string   `json:"handle"`
	Hash   string   `json:"hash"`
	Gecos  string   `json:"gecos"`
	ACLs   []string `json:"acls"`
}

// ACLRecord is one granted ACL with provenance, as reported by acl-list.
type ACLRecord struct {
	ACL       string `json:"acl"`
	Timestamp int64  `json:"timestamp"`
	Setter    string `json:"setter"`
}

var ErrHandleExists = errors.New("store: handle already registered")

// Store is the credential store. Handles and group names are stored
// case-folded; implementations fold on every call.
type Store interface {
	// Get returns the credential for handle, or nil when unknown.
	Get(ctx context.Context, handle string) (*Credential, error)

	// Add persists a new registration. Fails with ErrHandleExists when
	// the handle is taken.
	Add(ctx context.Context, handle, hash, gecos string, acls []string) error

	UserACL(ctx context.Context, handle string) ([]ACLRecord, error)
	GroupACL(ctx context.Context, group string) ([]ACLRecord, error)

	AddUserACL(ctx context.Context, handle, acl, setter string) error
	DelUserACL(ctx context.Context, handle, acl string) error
	AddGroupACL(ctx context.Context, group, acl, setter string) error
	DelGroupACL(ctx context.Context, group, acl string) error

	Close() error
}
