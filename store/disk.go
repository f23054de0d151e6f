package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nutsdb/nutsdb"
)

const (
	bucketCreds    = "credentials"
	bucketUserACL  = "user_acl"
	bucketGroupACL = "group_acl"
)

// Disk is a Store backed by an embedded nutsdb key/value database, so a
// standalone server keeps registrations across restarts. Records are stored
// as JSON values keyed by case-folded handle or group name.
type Disk struct {
	db *nutsdb.DB
}

func OpenDisk(dir string) (*Disk, error) {
	db, err := nutsdb.Open(nutsdb.DefaultOptions, nutsdb.WithDir(dir))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Disk{db: db}, nil
}

func (d *Disk) Close() error { return d.db.Close() }

func (d *Disk) Get(ctx context.Context, handle string) (*Credential, error) {
	var cred *Credential
	err := d.db.View(func(tx *nutsdb.Tx) error {
		entry, err := tx.Get(bucketCreds, []byte(strings.ToLower(handle)))
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		cred = &Credential{}
		return json.Unmarshal(entry.Value, cred)
	})
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", handle, err)
	}
	return cred, nil
}

func (d *Disk) Add(ctx context.Context, handle, hash, gecos string, acls []string) error {
	handle = strings.ToLower(handle)
	val, err := json.Marshal(Credential{
		Handle: handle,
		Hash:   hash,
		Gecos:  gecos,
		ACLs:   acls,
	})
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *nutsdb.Tx) error {
		if _, err := tx.Get(bucketCreds, []byte(handle)); err == nil {
			return ErrHandleExists
		} else if !isNotFound(err) {
			return err
		}
		return tx.Put(bucketCreds, []byte(handle), val, nutsdb.Persistent)
	})
}

func (d *Disk) UserACL(ctx context.Context, handle string) ([]ACLRecord, error) {
	return d.readRecords(bucketUserACL, handle)
}

func (d *Disk) GroupACL(ctx context.Context, group string) ([]ACLRecord, error) {
	return d.readRecords(bucketGroupACL, group)
}

func (d *Disk) AddUserACL(ctx context.Context, handle, acl, setter string) error {
	return d.mutateRecords(bucketUserACL, handle, func(recs []ACLRecord) []ACLRecord {
		return addRecord(recs, acl, setter, time.Now().Unix())
	})
}

func (d *Disk) DelUserACL(ctx context.Context, handle, acl string) error {
	return d.mutateRecords(bucketUserACL, handle, func(recs []ACLRecord) []ACLRecord {
		return delRecord(recs, acl)
	})
}

func (d *Disk) AddGroupACL(ctx context.Context, group, acl, setter string) error {
	return d.mutateRecords(bucketGroupACL, group, func(recs []ACLRecord) []ACLRecord {
		return addRecord(recs, acl, setter, time.Now().Unix())
	})
}

func (d *Disk) DelGroupACL(ctx context.Context, group, acl string) error {
	return d.mutateRecords(bucketGroupACL, group, func(recs []ACLRecord) []ACLRecord {
		return delRecord(recs, acl)
	})
}

func (d *Disk) readRecords(bucket, key string) ([]ACLRecord, error) {
	var recs []ACLRecord
	err := d.db.View(func(tx *nutsdb.Tx) error {
		entry, err := tx.Get(bucket, []byte(strings.ToLower(key)))
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		return json.Unmarshal(entry.Value, &recs)
	})
	if err != nil {
		return nil, fmt.Errorf("store: read %s/%s: %w", bucket, key, err)
	}
	return recs, nil
}

func (d *Disk) mutateRecords(bucket, key string, f func([]ACLRecord) []ACLRecord) error {
	key = strings.ToLower(key)
	return d.db.Update(func(tx *nutsdb.Tx) error {
		var recs []ACLRecord
		entry, err := tx.Get(bucket, []byte(key))
		if err == nil {
			if err := json.Unmarshal(entry.Value, &recs); err != nil {
				return err
			}
		} else if !isNotFound(err) {
			return err
		}
		val, err := json.Marshal(f(recs))
		if err != nil {
			return err
		}
		return tx.Put(bucket, []byte(key), val, nutsdb.Persistent)
	})
}

// isNotFound also matches the errors nutsdb reports for a bucket that has
// never been written, which it does not expose as sentinels consistently.
func isNotFound(err error) bool {
	return errors.Is(err, nutsdb.ErrKeyNotFound) ||
		errors.Is(err, nutsdb.ErrNotFoundKey) ||
		errors.Is(err, nutsdb.ErrBucketNotFound) ||
		strings.Contains(err.Error(), "bucket")
}
