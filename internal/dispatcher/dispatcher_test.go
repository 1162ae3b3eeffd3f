package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-oj/judge/internal/job"
)

func TestEnqueueAndGetJobRoundTrip(t *testing.T) {
	d := New(1, 1)
	ctx := context.Background()

	want := job.NewRunCachedJob("cpp.17.g++", 1000, 65536, job.RunCachedJob{SourcePath: "a.cpp"})
	require.NoError(t, d.Enqueue(ctx, want))

	got, err := d.GetJob(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, want.UUID, got.UUID)
}

func TestEnqueueBlocksWhenFullAndRespectsContext(t *testing.T) {
	d := New(1, 1)
	ctx := context.Background()

	first := job.NewRunCachedJob("cpp.17.g++", 1000, 65536, job.RunCachedJob{})
	require.NoError(t, d.Enqueue(ctx, first))

	second := job.NewRunCachedJob("cpp.17.g++", 1000, 65536, job.RunCachedJob{})
	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := d.Enqueue(cancelCtx, second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetJobBlocksUntilContextCancelled(t *testing.T) {
	d := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.GetJob(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetJobMergesAdvertisedLanguagesIntoCatalog(t *testing.T) {
	d := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ad := []LanguageInfo{{Key: "cpp.17.g++", Name: "C++17 (G++)", DisplayOrder: 1}}
	_, _ = d.GetJob(ctx, ad)

	catalog := d.Catalog()
	require.Contains(t, catalog, "cpp.17.g++")
	assert.Equal(t, "C++17 (G++)", catalog["cpp.17.g++"].Name)
}

func TestMergeCatalogIsLastWriteWins(t *testing.T) {
	d := New(1, 1)

	d.mergeCatalog([]LanguageInfo{{Key: "py.3", Name: "Python 3 (old)", DisplayOrder: 5}})
	d.mergeCatalog([]LanguageInfo{{Key: "py.3", Name: "Python 3 (new)", DisplayOrder: 5}})

	catalog := d.Catalog()
	assert.Equal(t, "Python 3 (new)", catalog["py.3"].Name)
}

func TestCatalogReturnsIndependentSnapshot(t *testing.T) {
	d := New(1, 1)
	d.mergeCatalog([]LanguageInfo{{Key: "cpp.17.g++", Name: "C++17"}})

	snapshot := d.Catalog()
	snapshot["cpp.17.g++"] = LanguageInfo{Key: "cpp.17.g++", Name: "mutated"}

	assert.Equal(t, "C++17", d.Catalog()["cpp.17.g++"].Name)
}

func TestSubscribeReceivesPublishedResults(t *testing.T) {
	d := New(1, 4)
	ch, unsubscribe := d.Subscribe()
	defer unsubscribe()

	want := job.JobResult{UUID: "abc", Code: job.CodeOk}
	d.SubmitJobResult(want)

	select {
	case got := <-ch:
		assert.Equal(t, want.UUID, got.UUID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published result")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := newBroadcaster(4)
	chA, unsubA := b.subscribe()
	defer unsubA()
	chB, unsubB := b.subscribe()
	defer unsubB()

	result := job.JobResult{UUID: "xyz"}
	b.publish(result)

	assert.Equal(t, "xyz", (<-chA).UUID)
	assert.Equal(t, "xyz", (<-chB).UUID)
}

func TestPublishDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	b := newBroadcaster(1)
	ch, unsubscribe := b.subscribe()
	defer unsubscribe()

	b.publish(job.JobResult{UUID: "first-dropped"})
	done := make(chan struct{})
	go func() {
		b.publish(job.JobResult{UUID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer instead of dropping")
	}

	assert.Equal(t, "second", (<-ch).UUID)
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := newBroadcaster(1)
	ch, unsubscribe := b.subscribe()
	unsubscribe()

	b.publish(job.JobResult{UUID: "after-unsubscribe"})

	_, open := <-ch
	assert.False(t, open)
}
