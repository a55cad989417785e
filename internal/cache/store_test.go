package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/internal/logging"
	"github.com/brandon/mailmirror/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	c, err := NewCache(":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return NewStore(c, logging.Discard())
}

func seedAccount(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	id, err := s.UpsertAccount(context.Background(), &config.AccountConfig{Email: email, Name: email, Role: "user"})
	require.NoError(t, err)
	return id
}

func syncedMessage(ownerID int64, category types.Category, messageID, folder string, uid uint32) *types.MirroredMessage {
	return &types.MirroredMessage{
		OwnerID:   ownerID,
		From:      "Bob <bob@co.com>",
		FromName:  "Bob",
		FromEmail: "bob@co.com",
		To:        "alice@co.com",
		Subject:   fmt.Sprintf("message %d", uid),
		BodyText:  "hello",
		Category:  category,
		Source: types.SourceMetadata{
			Origin:    types.OriginIMAPSync,
			MessageID: messageID,
			Folder:    folder,
			ServerUID: uid,
			SentAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestUpsertAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := seedAccount(t, s, "alice@co.com")
	again, err := s.UpsertAccount(ctx, &config.AccountConfig{Email: "Alice@Co.com", Name: "Alice", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	acc, err := s.GetAccountByEmail(ctx, "ALICE@co.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", acc.Name)
	assert.True(t, acc.IsAdmin())

	_, err = s.GetAccountByEmail(ctx, "nobody@co.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMirrorExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")
	other := seedAccount(t, s, "bob@co.com")

	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "<a@co.com>", "INBOX", 7)))
	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "", "INBOX", 8)))

	// message-id matches across folders and uids
	exists, err := s.MirrorExists(ctx, owner, "<a@co.com>", "Sent", 99)
	require.NoError(t, err)
	assert.True(t, exists)

	// scoped to the owner
	exists, err = s.MirrorExists(ctx, other, "<a@co.com>", "INBOX", 7)
	require.NoError(t, err)
	assert.False(t, exists)

	// folder+uid fallback without a message-id
	exists, err = s.MirrorExists(ctx, owner, "", "INBOX", 8)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.MirrorExists(ctx, owner, "", "Sent", 8)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "mirror.db")

	c, err := NewCache(path, logging.Discard())
	require.NoError(t, err)
	s := NewStore(c, logging.Discard())
	seedAccount(t, s, "alice@co.com")
	require.NoError(t, c.Close())

	c, err = NewCache(path, logging.Discard())
	require.NoError(t, err)
	defer c.Close()

	applied, err := c.migrate()
	require.NoError(t, err)
	assert.Zero(t, applied)

	acc, err := NewStore(c, logging.Discard()).GetAccountByEmail(context.Background(), "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", acc.Email)
}

func TestMirrorExistsWithoutTable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.cache.DB().Exec("DROP TABLE mirrored_messages")
	require.NoError(t, err)

	exists, err := s.MirrorExists(context.Background(), 1, "<a@co.com>", "INBOX", 1)
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := s.DeleteSynced(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertMirrorEnforcesIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	msg := syncedMessage(owner, types.CategoryInbox, "<dup@co.com>", "INBOX", 1)
	require.NoError(t, s.InsertMirror(ctx, msg))
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	err := s.InsertMirror(ctx, syncedMessage(owner, types.CategorySent, "<dup@co.com>", "Sent", 2))
	assert.Error(t, err)

	// without a message-id the folder+uid pair is the identity
	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "", "INBOX", 5)))
	err = s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "", "INBOX", 5))
	assert.Error(t, err)

	bad := syncedMessage(owner, "trash", "<x@co.com>", "INBOX", 3)
	assert.Error(t, s.InsertMirror(ctx, bad))
}

func TestReusedUIDWithNewMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "<old@co.com>", "INBOX", 7)))

	// after a UIDVALIDITY reset the server hands out UID 7 again
	exists, err := s.MirrorExists(ctx, owner, "<new@co.com>", "INBOX", 7)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "<new@co.com>", "INBOX", 7)))

	counts, err := s.CountView(ctx, ViewFilter{OwnerID: owner, Category: types.CategoryInbox}, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
}

func TestGetMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")
	other := seedAccount(t, s, "bob@co.com")

	msg := syncedMessage(owner, types.CategorySent, "<rt@co.com>", "Sent", 42)
	msg.Flags = types.Flags{IsRead: true, IsStarred: true, HasAttachments: true}
	require.NoError(t, s.InsertMirror(ctx, msg))

	got, err := s.GetMessage(ctx, owner, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CategorySent, got.Category)
	assert.Equal(t, msg.Flags, got.Flags)
	assert.Equal(t, "<rt@co.com>", got.Source.MessageID)
	assert.Equal(t, uint32(42), got.Source.ServerUID)
	assert.Equal(t, types.OriginIMAPSync, got.Source.Origin)
	assert.True(t, msg.Source.SentAt.Equal(got.Source.SentAt))

	_, err = s.GetMessage(ctx, other, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSyncedKeepsLocalRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "<1@co.com>", "INBOX", 1)))
	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategorySent, "<2@co.com>", "Sent", 2)))
	local := syncedMessage(owner, types.CategorySent, "", "", 0)
	local.Source.Origin = types.OriginLocal
	require.NoError(t, s.InsertMirror(ctx, local))

	n, err := s.DeleteSynced(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.GetMessage(ctx, owner, local.ID)
	assert.NoError(t, err)
}

func TestListAndCountView(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	for i := 1; i <= 5; i++ {
		msg := syncedMessage(owner, types.CategoryInbox, fmt.Sprintf("<%d@co.com>", i), "INBOX", uint32(i))
		msg.Flags.IsRead = i%2 == 0
		require.NoError(t, s.InsertMirror(ctx, msg))
	}
	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategorySent, "<s@co.com>", "Sent", 1)))

	inbox := ViewFilter{OwnerID: owner, Category: types.CategoryInbox}

	page, err := s.ListView(ctx, inbox, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "message 5", page[0].Subject)
	assert.Equal(t, "message 4", page[1].Subject)

	counts, err := s.CountView(ctx, inbox, 100)
	require.NoError(t, err)
	assert.Equal(t, ViewCounts{Total: 5, Unread: 3}, counts)

	// ceiling keeps only the newest rows: 5 (unread), 4 (read), 3 (unread)
	counts, err = s.CountView(ctx, inbox, 3)
	require.NoError(t, err)
	assert.Equal(t, ViewCounts{Total: 3, Unread: 2}, counts)

	empty, err := s.ListView(ctx, inbox, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestViewSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	invoice := syncedMessage(owner, types.CategoryInbox, "<i@co.com>", "INBOX", 1)
	invoice.Subject = "Invoice #42"
	require.NoError(t, s.InsertMirror(ctx, invoice))

	fromCarol := syncedMessage(owner, types.CategoryInbox, "<c@co.com>", "INBOX", 2)
	fromCarol.FromName = "Carol Danvers"
	fromCarol.FromEmail = "carol@vendor.io"
	require.NoError(t, s.InsertMirror(ctx, fromCarol))

	body := syncedMessage(owner, types.CategoryInbox, "<b@co.com>", "INBOX", 3)
	body.BodyText = "50% off everything"
	require.NoError(t, s.InsertMirror(ctx, body))

	tests := []struct {
		term string
		want string
	}{
		{"INVOICE", "Invoice #42"},
		{"vendor.io", "message 2"},
		{"danvers", "message 2"},
		{"50%", "message 3"},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			f := ViewFilter{OwnerID: owner, Category: types.CategoryInbox, Search: tt.term}
			got, err := s.ListView(ctx, f, 0, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Subject)
		})
	}

	// "%" alone must not act as a wildcard
	f := ViewFilter{OwnerID: owner, Category: types.CategoryInbox, Search: "%"}
	counts, err := s.CountView(ctx, f, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}

func TestViewSearchFoldsUnicode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	msg := syncedMessage(owner, types.CategoryInbox, "<e@co.com>", "INBOX", 1)
	msg.FromName = "Élodie Müller"
	msg.Subject = "ÜBERSICHT"
	require.NoError(t, s.InsertMirror(ctx, msg))
	require.NoError(t, s.InsertMirror(ctx, syncedMessage(owner, types.CategoryInbox, "<o@co.com>", "INBOX", 2)))

	for _, term := range []string{"élodie", "ÉLODIE", "übersicht", "MÜLLER", "Übersicht"} {
		t.Run(term, func(t *testing.T) {
			f := ViewFilter{OwnerID: owner, Category: types.CategoryInbox, Search: term}
			got, err := s.ListView(ctx, f, 0, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "ÜBERSICHT", got[0].Subject)
		})
	}

	// a term spanning two fields does not match
	f := ViewFilter{OwnerID: owner, Category: types.CategoryInbox, Search: "übersicht hello"}
	counts, err := s.CountView(ctx, f, 100)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestRefoldSearchBackfillsRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "alice@co.com")

	msg := syncedMessage(owner, types.CategoryInbox, "<e@co.com>", "INBOX", 1)
	msg.Subject = "Café ÉTÉ"
	require.NoError(t, s.InsertMirror(ctx, msg))

	// rows from before the column existed carry the default
	_, err := s.cache.DB().Exec("UPDATE mirrored_messages SET search_fold = ''")
	require.NoError(t, err)

	f := ViewFilter{OwnerID: owner, Category: types.CategoryInbox, Search: "été"}
	counts, err := s.CountView(ctx, f, 100)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)

	require.NoError(t, refoldSearch(s.cache.DB()))

	counts, err = s.CountView(ctx, f, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}
