package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhilippeHo27/mp3maker/internal/models"
)

func TestStoreCreate(t *testing.T) {
	t.Run("registers session with fresh id", func(t *testing.T) {
		store := NewStore(10)

		sess, err := store.Create("https://youtube.com/watch?v=abc", "youtube")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, models.StateCreated, sess.State)
		assert.Equal(t, 1, store.Count())

		got, exists := store.Get(sess.ID)
		require.True(t, exists)
		assert.Equal(t, "youtube", got.Platform)
	})

	t.Run("rejects creation at capacity", func(t *testing.T) {
		store := NewStore(2)

		_, err := store.Create("https://a", "youtube")
		require.NoError(t, err)
		_, err = store.Create("https://b", "youtube")
		require.NoError(t, err)

		_, err = store.Create("https://c", "youtube")
		assert.ErrorIs(t, err, ErrTooManySessions)
		assert.Equal(t, 2, store.Count())
	})

	t.Run("frees capacity on removal", func(t *testing.T) {
		store := NewStore(1)

		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)
		store.Remove(sess.ID)

		_, err = store.Create("https://b", "youtube")
		assert.NoError(t, err)
	})
}

func TestStoreSetState(t *testing.T) {
	store := NewStore(10)
	sess, err := store.Create("https://a", "youtube")
	require.NoError(t, err)

	require.NoError(t, store.SetState(sess.ID, models.StateConverting))
	require.NoError(t, store.SetState(sess.ID, models.StateComplete))

	err = store.SetState(sess.ID, models.StateConverting)
	assert.Error(t, err, "terminal state must not be left")

	got, _ := store.Get(sess.ID)
	assert.Equal(t, models.StateComplete, got.State)

	assert.ErrorIs(t, store.SetState("missing", models.StateConverting), ErrNotFound)
}

func TestStorePublish(t *testing.T) {
	t.Run("clamps regressing percent to high-water mark", func(t *testing.T) {
		store := NewStore(10)
		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)

		ch, err := store.Subscribe(sess.ID)
		require.NoError(t, err)

		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseDownloading, Percent: 45})
		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseDownloading, Percent: 20})
		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseConverting, Percent: 95})

		assert.Equal(t, 45.0, (<-ch).Percent)
		assert.Equal(t, 45.0, (<-ch).Percent)
		assert.Equal(t, 95.0, (<-ch).Percent)
	})

	t.Run("terminal error event is exempt from the clamp", func(t *testing.T) {
		store := NewStore(10)
		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)

		ch, err := store.Subscribe(sess.ID)
		require.NoError(t, err)

		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseDownloading, Percent: 60})
		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseError, Percent: 0, Error: "boom"})

		<-ch
		event := <-ch
		assert.Equal(t, models.PhaseError, event.Status)
		assert.Equal(t, 0.0, event.Percent)
	})

	t.Run("does not block without a subscriber", func(t *testing.T) {
		store := NewStore(10)
		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseDownloading, Percent: float64(i)})
		}

		got, _ := store.Get(sess.ID)
		require.NotNil(t, got.LastEvent)
		assert.Equal(t, 99.0, got.LastEvent.Percent)
	})
}

func TestStoreSubscribe(t *testing.T) {
	t.Run("replays last event to a late subscriber", func(t *testing.T) {
		store := NewStore(10)
		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)

		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseComplete, Percent: 100, Message: "Complete!"})

		ch, err := store.Subscribe(sess.ID)
		require.NoError(t, err)

		event := <-ch
		assert.Equal(t, models.PhaseComplete, event.Status)
		assert.Equal(t, 100.0, event.Percent)
	})

	t.Run("new subscriber replaces and closes the previous one", func(t *testing.T) {
		store := NewStore(10)
		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)

		first, err := store.Subscribe(sess.ID)
		require.NoError(t, err)
		second, err := store.Subscribe(sess.ID)
		require.NoError(t, err)

		_, open := <-first
		assert.False(t, open, "replaced channel must be closed")

		store.Publish(sess.ID, models.ProgressEvent{Status: models.PhaseDownloading, Percent: 50})
		event := <-second
		assert.Equal(t, 50.0, event.Percent)
	})

	t.Run("unsubscribe ignores a stale channel", func(t *testing.T) {
		store := NewStore(10)
		sess, err := store.Create("https://a", "youtube")
		require.NoError(t, err)

		first, err := store.Subscribe(sess.ID)
		require.NoError(t, err)
		second, err := store.Subscribe(sess.ID)
		require.NoError(t, err)

		store.Unsubscribe(sess.ID, first)
		assert.True(t, store.HasSubscriber(sess.ID))

		store.Unsubscribe(sess.ID, second)
		assert.False(t, store.HasSubscriber(sess.ID))
	})

	t.Run("unknown session", func(t *testing.T) {
		store := NewStore(10)
		_, err := store.Subscribe("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreTakeResultFile(t *testing.T) {
	store := NewStore(10)
	sess, err := store.Create("https://a", "youtube")
	require.NoError(t, err)

	store.SetMetadata(sess.ID, "My Song", "https://img")
	store.SetResultFile(sess.ID, "/tmp/temp-x.mp3")

	path, title, ok := store.TakeResultFile(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "/tmp/temp-x.mp3", path)
	assert.Equal(t, "My Song", title)

	_, _, ok = store.TakeResultFile(sess.ID)
	assert.False(t, ok, "retrieval is single-shot")

	_, _, ok = store.TakeResultFile("missing")
	assert.False(t, ok)
}

func TestStoreExpireTerminal(t *testing.T) {
	store := NewStore(2)

	failed, err := store.Create("https://a", "youtube")
	require.NoError(t, err)
	require.NoError(t, store.SetState(failed.ID, models.StateFailed))
	store.SetTempBase(failed.ID, "/tmp/temp-"+failed.ID)

	active, err := store.Create("https://b", "youtube")
	require.NoError(t, err)
	require.NoError(t, store.SetState(active.ID, models.StateConverting))

	t.Run("fresh terminal sessions are kept", func(t *testing.T) {
		assert.Empty(t, store.ExpireTerminal(time.Hour))
		_, exists := store.Get(failed.ID)
		assert.True(t, exists)
	})

	t.Run("aged terminal sessions are evicted", func(t *testing.T) {
		ch, err := store.Subscribe(failed.ID)
		require.NoError(t, err)

		store.mu.Lock()
		store.sessions[failed.ID].terminalAt = time.Now().Add(-2 * time.Hour)
		store.mu.Unlock()

		expired := store.ExpireTerminal(time.Hour)
		require.Len(t, expired, 1)
		assert.Equal(t, failed.ID, expired[0].ID)
		assert.Equal(t, "/tmp/temp-"+failed.ID, expired[0].TempBase)

		for range ch {
		}
		// Channel drained and closed; only the in-flight session remains.
		_, exists := store.Get(failed.ID)
		assert.False(t, exists)
		_, exists = store.Get(active.ID)
		assert.True(t, exists)

		// Eviction frees a capacity slot again.
		_, err = store.Create("https://c", "youtube")
		assert.NoError(t, err)
	})
}

func TestStoreRemoveClosesSubscriber(t *testing.T) {
	store := NewStore(10)
	sess, err := store.Create("https://a", "youtube")
	require.NoError(t, err)

	ch, err := store.Subscribe(sess.ID)
	require.NoError(t, err)

	store.Remove(sess.ID)

	_, open := <-ch
	assert.False(t, open)
	_, exists := store.Get(sess.ID)
	assert.False(t, exists)
}
