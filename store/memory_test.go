package store

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCredentials(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	cred, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, m.Add(ctx, "Alice", "hash", "Alice of Wonderland", []string{"user:auspex"}))

	cred, err = m.Get(ctx, "ALICE")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "alice", cred.Handle)
	assert.Equal(t, "hash", cred.Hash)
	assert.Equal(t, "Alice of Wonderland", cred.Gecos)
	assert.Equal(t, []string{"user:auspex"}, cred.ACLs)

	err = m.Add(ctx, "alice", "other", "someone else", nil)
	require.ErrorIs(t, err, ErrHandleExists)

	// Mutating the returned copy must not leak into the store.
	cred.ACLs[0] = "user:ban"
	again, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:auspex"}, again.ACLs)
}

func TestMemoryUserACL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemoryWithClock(clock)
	ctx := context.Background()

	recs, err := m.UserACL(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, m.AddUserACL(ctx, "alice", "user:auspex", "bob"))
	clock.Advance(time.Minute)
	require.NoError(t, m.AddUserACL(ctx, "alice", "user:grant", "bob"))

	recs, err = m.UserACL(ctx, "Alice")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "user:auspex", recs[0].ACL)
	assert.Equal(t, "bob", recs[0].Setter)
	assert.Equal(t, recs[0].Timestamp+60, recs[1].Timestamp)

	// Re-adding replaces the record rather than duplicating it.
	require.NoError(t, m.AddUserACL(ctx, "alice", "user:auspex", "carol"))
	recs, err = m.UserACL(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "carol", recs[1].Setter)

	require.NoError(t, m.DelUserACL(ctx, "alice", "USER:GRANT"))
	recs, err = m.UserACL(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "user:auspex", recs[0].ACL)

	// Deleting an absent record is a no-op.
	require.NoError(t, m.DelUserACL(ctx, "alice", "user:ban"))
}

func TestMemoryGroupACL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AddGroupACL(ctx, "#lobby", "grant", "alice"))
	require.NoError(t, m.AddGroupACL(ctx, "#lobby", "voice", "alice"))

	recs, err := m.GroupACL(ctx, "#LOBBY")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NoError(t, m.DelGroupACL(ctx, "#lobby", "grant"))
	recs, err = m.GroupACL(ctx, "#lobby")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "voice", recs[0].ACL)

	// Separate namespaces for user and group records.
	recs, err = m.UserACL(ctx, "#lobby")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
