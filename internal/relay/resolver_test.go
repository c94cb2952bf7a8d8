package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardrelay/cardrelay/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:relay_%s?mode=memory&cache=shared", t.Name())
	db, err := database.New(&database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate())
	return db
}

func appendAt(t *testing.T, db *database.DB, username, content, sender string, at time.Time) database.Message {
	t.Helper()
	msg := database.Message{
		Username:         username,
		SmsContent:       content,
		Sender:           sender,
		SystemReceivedAt: at,
	}
	require.NoError(t, db.AppendMessage(&msg))
	return msg
}

func TestResolveUnknownKey(t *testing.T) {
	db := openTestDB(t)
	r := New(db)

	res := r.Resolve("no-such-key", "")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotFound)
}

func TestResolveBindsEarliestAfterActivation(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendAt(t, db, "alice", "too early", "10690000", base.Add(10*time.Second))
	want := appendAt(t, db, "alice", "the code", "10690000", base.Add(20*time.Second))
	appendAt(t, db, "alice", "too late", "10690000", base.Add(30*time.Second))

	link, err := db.CreateCardLink("alice", "app", "", nil, nil, nil)
	require.NoError(t, err)

	r := New(db)
	r.now = func() time.Time { return base.Add(15 * time.Second) }

	res := r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "the code", res.Message)
	require.NotNil(t, res.RawMessage)
	assert.Equal(t, want.ID, res.RawMessage.ID)
	require.NotNil(t, res.FirstUsedAt)
	assert.True(t, res.FirstUsedAt.Equal(base.Add(15*time.Second)))
}

func TestResolveIsIdempotentOnceBound(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	want := appendAt(t, db, "alice", "first code", "10690000", base.Add(10*time.Second))

	link, err := db.CreateCardLink("alice", "app", "", nil, nil, nil)
	require.NoError(t, err)

	r := New(db)
	r.now = func() time.Time { return base }

	res := r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	require.NotNil(t, res.RawMessage)
	require.Equal(t, want.ID, res.RawMessage.ID)

	// later messages must not displace the bound one
	appendAt(t, db, "alice", "second code", "10690000", base.Add(20*time.Second))

	for i := 0; i < 3; i++ {
		res = r.Resolve(link.CardKey, "")
		require.NoError(t, res.Err)
		assert.Equal(t, "first code", res.Message)
		assert.Equal(t, want.ID, res.RawMessage.ID)
	}
}

func TestResolveEmptyWhileWaiting(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	link, err := db.CreateCardLink("alice", "app", "", nil, nil, nil)
	require.NoError(t, err)

	r := New(db)
	r.now = func() time.Time { return base }

	// no message yet: a well-formed empty success, never an error
	res := r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Message)
	assert.Nil(t, res.RawMessage)
	require.NotNil(t, res.FirstUsedAt)

	// the message arrives, the next poll binds it
	appendAt(t, db, "alice", "late code", "10690000", base.Add(5*time.Second))
	res = r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.Equal(t, "late code", res.Message)
}

func TestResolveTemplateFiltering(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tmpl, err := db.CreateTemplate("verify", "")
	require.NoError(t, err)
	_, err = db.CreateRule(tmpl.ID, database.RuleTypeInclude, database.RuleModeSimpleInclude, "验证码", "", 0)
	require.NoError(t, err)

	link, err := db.CreateCardLink("alice", "", "", &tmpl.ID, nil, nil)
	require.NoError(t, err)

	r := New(db)
	r.now = func() time.Time { return base }

	// the earliest message fails the rule, so nothing binds yet
	appendAt(t, db, "alice", "快递已签收", "10690000", base.Add(10*time.Second))
	res := r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Message)

	got, err := db.GetCardLinkByKey(link.CardKey)
	require.NoError(t, err)
	assert.Nil(t, got.MessageID, "rejected candidate must not bind")
}

func TestResolveMissingTemplateFallsBack(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tmpl, err := db.CreateTemplate("doomed", "")
	require.NoError(t, err)
	link, err := db.CreateCardLink("alice", "", "", &tmpl.ID, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.DeleteTemplate(tmpl.ID))

	appendAt(t, db, "alice", "unfiltered", "10690000", base.Add(10*time.Second))

	r := New(db)
	r.now = func() time.Time { return base }

	res := r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.Equal(t, "unfiltered", res.Message)
}

func TestResolvePhoneParamOverridesLinkScope(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendAt(t, db, "alice", "from 1111", "10691111", base.Add(10*time.Second))
	appendAt(t, db, "alice", "from 2222", "10692222", base.Add(20*time.Second))

	link, err := db.CreateCardLink("alice", "app", "1111", nil, nil, nil)
	require.NoError(t, err)

	r := New(db)
	r.now = func() time.Time { return base }

	// the explicit query parameter wins over the link's own phone scope
	res := r.Resolve(link.CardKey, "2222")
	require.NoError(t, res.Err)
	assert.Equal(t, "from 2222", res.Message)
}

func TestResolveExpiryWindow(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expiry := 1
	link, err := db.CreateCardLink("alice", "app", "", nil, &expiry, nil)
	require.NoError(t, err)

	r := New(db)
	r.now = func() time.Time { return base }

	res := r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.False(t, res.IsExpired)

	r.now = func() time.Time { return base.Add(23 * time.Hour) }
	res = r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.False(t, res.IsExpired, "23h into a 1-day window is not expired")

	r.now = func() time.Time { return base.Add(25 * time.Hour) }
	res = r.Resolve(link.CardKey, "")
	require.NoError(t, res.Err)
	assert.True(t, res.IsExpired, "25h into a 1-day window is expired")
}

func TestResolveConcurrentActivationSingleWinner(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	link, err := db.CreateCardLink("alice", "app", "", nil, nil, nil)
	require.NoError(t, err)

	// each resolver stamps a distinct activation time; exactly one may stick
	const workers = 8
	stamps := make([]time.Time, workers)
	for i := range stamps {
		stamps[i] = base.Add(time.Duration(i) * time.Second)
	}

	var wg sync.WaitGroup
	results := make([]Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := New(db)
			r.now = func() time.Time { return stamps[i] }
			results[i] = r.Resolve(link.CardKey, "")
		}(i)
	}
	wg.Wait()

	got, err := db.GetCardLinkByKey(link.CardKey)
	require.NoError(t, err)
	require.NotNil(t, got.FirstUsedAt)

	// every caller converges on the winner's activation timestamp
	for i, res := range results {
		require.NoError(t, res.Err, "worker %d", i)
		assert.True(t, res.Success, "worker %d", i)
		require.NotNil(t, res.FirstUsedAt, "worker %d", i)
		assert.True(t, res.FirstUsedAt.Equal(*got.FirstUsedAt), "worker %d", i)
	}

	matches := 0
	for _, ts := range stamps {
		if got.FirstUsedAt.Equal(ts) {
			matches++
		}
	}
	assert.Equal(t, 1, matches, "exactly one activation timestamp must persist")
}
