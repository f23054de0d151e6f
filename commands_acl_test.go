package minnow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minnow-im/minnow/dcp"
)

func TestACLUserScope(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "alice", "hunter2", "user:grant", "user:auspex")
	seedUser(t, srv, "bob", "hunter2")
	a := signon(t, srv, "alice", "hunter2")
	b := signon(t, srv, "bob", "hunter2")

	t.Run("requires grant", func(t *testing.T) {
		b.send("bob", "alice", "acl-set", dcp.Kval{"acl": {"user:auspex"}})
		b.expectError("acl-set", "No permission to alter ACL")
	})

	t.Run("cannot grant an unheld token", func(t *testing.T) {
		a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:ban"}})
		a.expectError("acl-set", "No permission to alter ACL")
	})

	t.Run("grant notifies both sides", func(t *testing.T) {
		a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:auspex"}})

		fb := b.expect("acl-set")
		assert.Equal(t, "="+testServerName, fb.Source)
		assert.Equal(t, "bob", fb.Target)
		assert.Equal(t, "bob", fb.Kval.First("target", ""))

		fa := a.expect("acl-set")
		assert.Equal(t, "alice", fa.Target)

		srv.mu.Lock()
		held := srv.users["bob"].ACLs.Has("user:auspex")
		srv.mu.Unlock()
		assert.True(t, held)

		recs, err := srv.store.UserACL(context.Background(), "bob")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "user:auspex", recs[0].ACL)
		assert.Equal(t, "alice", recs[0].Setter)
	})

	t.Run("duplicate grant", func(t *testing.T) {
		a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:auspex"}})
		a.expectError("acl-set", "ACL exists")
	})

	t.Run("revoke notifies both sides", func(t *testing.T) {
		a.send("alice", "bob", "acl-del", dcp.Kval{"acl": {"user:auspex"}})
		b.expect("acl-del")
		a.expect("acl-del")

		srv.mu.Lock()
		held := srv.users["bob"].ACLs.Has("user:auspex")
		srv.mu.Unlock()
		assert.False(t, held)

		recs, err := srv.store.UserACL(context.Background(), "bob")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("revoke of absent token", func(t *testing.T) {
		a.send("alice", "bob", "acl-del", dcp.Kval{"acl": {"user:auspex"}})
		a.expectError("acl-del", "ACL does not exist")
	})

	t.Run("group token rejected at user scope", func(t *testing.T) {
		a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"voice"}})
		a.expectError("acl-set", "Invalid ACL")
	})

	t.Run("no acl given", func(t *testing.T) {
		a.send("alice", "bob", "acl-set", nil)
		a.expectError("acl-set", "No ACL")
	})

	t.Run("offline user", func(t *testing.T) {
		a.send("alice", "ghost", "acl-set", dcp.Kval{"acl": {"user:auspex"}})
		a.expectError("acl-set", "No such user")
	})

	t.Run("server target", func(t *testing.T) {
		a.send("alice", "="+testServerName, "acl-set", dcp.Kval{"acl": {"user:auspex"}})
		a.expectError("acl-set", "ACLs can't be set on servers yet")
	})

	t.Run("star target", func(t *testing.T) {
		a.send("alice", "*", "acl-set", dcp.Kval{"acl": {"user:auspex"}})
		a.expectError("acl-set", "No valid target")
	})
}

func TestACLGroupScope(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "alice", "hunter2", "group:grant")
	seedUser(t, srv, "bob", "hunter2")
	seedUser(t, srv, "carol", "hunter2")
	a := signon(t, srv, "alice", "hunter2")
	b := signon(t, srv, "bob", "hunter2")
	c := signon(t, srv, "carol", "hunter2")

	a.send("alice", "#lobby", "group-enter", nil)
	a.expect("group-enter")
	b.send("bob", "#lobby", "group-enter", nil)
	a.expect("group-enter")
	b.expect("group-enter")

	t.Run("group grant fallback at user scope", func(t *testing.T) {
		a.send("alice", "#lobby", "acl-set", dcp.Kval{"user": {"bob"}, "acl": {"voice"}})

		fa := a.expect("acl-set")
		assert.Equal(t, "#lobby", fa.Kval.First("target", ""))
		assert.Equal(t, "bob", fa.Kval.First("user", ""))
		b.expect("acl-set")

		srv.mu.Lock()
		held := srv.groups["#lobby"].ACL.Has("bob", "voice")
		srv.mu.Unlock()
		assert.True(t, held)

		recs, err := srv.store.GroupACL(context.Background(), "#lobby")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "voice", recs[0].ACL)
		assert.Equal(t, "alice", recs[0].Setter)
	})

	t.Run("member without grant", func(t *testing.T) {
		b.send("bob", "#lobby", "acl-set", dcp.Kval{"user": {"alice"}, "acl": {"topic"}})
		b.expectError("acl-set", "No permission to alter ACL")
	})

	t.Run("non member", func(t *testing.T) {
		c.send("carol", "#lobby", "acl-set", dcp.Kval{"user": {"bob"}, "acl": {"voice"}})
		c.expectError("acl-set", "Must be in group to alter ACLs in it")
	})

	t.Run("scoped grant token", func(t *testing.T) {
		// grant:voice lets bob hand out voice but nothing else.
		a.send("alice", "#lobby", "acl-set", dcp.Kval{"user": {"bob"}, "acl": {"grant:voice"}})
		a.expect("acl-set")
		b.expect("acl-set")

		b.send("bob", "#lobby", "acl-set", dcp.Kval{"user": {"alice"}, "acl": {"voice"}})
		a.expect("acl-set")
		b.expect("acl-set")

		b.send("bob", "#lobby", "acl-set", dcp.Kval{"user": {"alice"}, "acl": {"topic"}})
		b.expectError("acl-set", "No permission to alter ACL")
	})

	t.Run("user token rejected at group scope", func(t *testing.T) {
		a.send("alice", "#lobby", "acl-set", dcp.Kval{"user": {"bob"}, "acl": {"user:auspex"}})
		a.expectError("acl-set", "Invalid ACL")
	})

	t.Run("missing user", func(t *testing.T) {
		a.send("alice", "#lobby", "acl-set", dcp.Kval{"acl": {"voice"}})
		a.expectError("acl-set", "No valid user for target")
	})

	t.Run("unknown group", func(t *testing.T) {
		a.send("alice", "#ghost", "acl-set", dcp.Kval{"user": {"bob"}, "acl": {"voice"}})
		a.expectError("acl-set", "No such group")
	})
}

func TestACLList(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "alice", "hunter2", "user:grant", "user:auspex")
	seedUser(t, srv, "bob", "hunter2")
	seedUser(t, srv, "carol", "hunter2")
	a := signon(t, srv, "alice", "hunter2")
	b := signon(t, srv, "bob", "hunter2")
	c := signon(t, srv, "carol", "hunter2")

	a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:auspex"}})
	a.expect("acl-set")
	b.expect("acl-set")

	t.Run("grant holder lists a user", func(t *testing.T) {
		a.send("alice", "bob", "acl-list", nil)
		f := a.expect("acl-list")
		assert.Equal(t, []string{"user:auspex"}, f.Kval["acl"])
		assert.Equal(t, []string{"alice"}, f.Kval["acl-setter"])
		require.Len(t, f.Kval["acl-time"], 1)
		assert.NotEmpty(t, f.Kval["acl-time"][0])
		assert.Equal(t, "*", f.Kval.First("multipart", ""))
	})

	t.Run("grant required even for own records", func(t *testing.T) {
		b.send("bob", "bob", "acl-list", nil)
		b.expectError("acl-list", "No permission to alter ACL")
	})

	t.Run("no grant", func(t *testing.T) {
		c.send("carol", "bob", "acl-list", nil)
		c.expectError("acl-list", "No permission to alter ACL")
	})

	t.Run("empty records", func(t *testing.T) {
		a.send("alice", "carol", "acl-list", nil)
		f := a.expect("acl-list")
		assert.Equal(t, "carol", f.Kval.First("target", ""))
		assert.NotContains(t, f.Kval, "acl")
	})

	t.Run("group records open to members", func(t *testing.T) {
		a.send("alice", "#lobby", "group-enter", nil)
		a.expect("group-enter")
		b.send("bob", "#lobby", "group-enter", nil)
		a.expect("group-enter")
		b.expect("group-enter")

		// Place a record through the trusted path so viewing is the only
		// permission under test.
		srv.DispatchTrusted(a.sess,
			dcp.NewFrame("alice", "#lobby", "acl-set",
				dcp.Kval{"user": {"bob"}, "acl": {"voice"}}))
		a.expect("acl-set")
		b.expect("acl-set")

		b.send("bob", "#lobby", "acl-list", nil)
		f := b.expect("acl-list")
		assert.Equal(t, []string{"voice"}, f.Kval["acl"])
		assert.Equal(t, []string{"*"}, f.Kval["acl-setter"])

		c.send("carol", "#lobby", "acl-list", nil)
		c.expectError("acl-list", "Must be in group to view ACLs")
	})
}

func TestACLMultiToken(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "alice", "hunter2", "user:grant", "user:auspex", "user:ban")
	seedUser(t, srv, "bob", "hunter2")
	a := signon(t, srv, "alice", "hunter2")
	b := signon(t, srv, "bob", "hunter2")

	a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:auspex"}})
	a.expect("acl-set")
	b.expect("acl-set")

	t.Run("set applies nothing when one token exists", func(t *testing.T) {
		// user:ban comes first, so a non-atomic set would apply it before
		// tripping over the already held user:auspex.
		a.send("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:ban", "user:auspex"}})
		a.expectError("acl-set", "ACL exists")

		srv.mu.Lock()
		held := srv.users["bob"].ACLs.Has("user:ban")
		srv.mu.Unlock()
		assert.False(t, held)

		recs, err := srv.store.UserACL(context.Background(), "bob")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "user:auspex", recs[0].ACL)
	})

	t.Run("del removes nothing when one token is absent", func(t *testing.T) {
		a.send("alice", "bob", "acl-del", dcp.Kval{"acl": {"user:auspex", "user:ban"}})
		a.expectError("acl-del", "ACL does not exist")

		srv.mu.Lock()
		held := srv.users["bob"].ACLs.Has("user:auspex")
		srv.mu.Unlock()
		assert.True(t, held)

		recs, err := srv.store.UserACL(context.Background(), "bob")
		require.NoError(t, err)
		require.Len(t, recs, 1)
	})
}

func TestDispatchTrusted(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "alice", "hunter2")
	seedUser(t, srv, "bob", "hunter2")
	a := signon(t, srv, "alice", "hunter2")
	b := signon(t, srv, "bob", "hunter2")

	// No grants anywhere, yet the trusted path succeeds and reports the
	// setter as the server.
	srv.DispatchTrusted(a.sess,
		dcp.NewFrame("alice", "bob", "acl-set", dcp.Kval{"acl": {"user:ban"}}))

	fb := b.expect("acl-set")
	assert.Equal(t, "*", fb.Source)
	fa := a.expect("acl-set")
	assert.Equal(t, "*", fa.Source)

	srv.mu.Lock()
	held := srv.users["bob"].ACLs.Has("user:ban")
	srv.mu.Unlock()
	assert.True(t, held)

	recs, err := srv.store.UserACL(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "*", recs[0].Setter)
}
