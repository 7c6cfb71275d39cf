package poller

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/confluence"
	"github.com/p-blackswan/conductor/internal/event"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type fakePages struct {
	pages    []*confluence.Page
	states   map[string]string
	comments map[string][]confluence.Comment
	listErr  error
	sinceLog []time.Time
}

func (f *fakePages) GetPagesInReview(_ context.Context) ([]*confluence.Page, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages, nil
}

func (f *fakePages) GetContentState(_ context.Context, pageID string) (string, error) {
	return f.states[pageID], nil
}

func (f *fakePages) GetNewComments(_ context.Context, pageID string, since time.Time) ([]confluence.Comment, error) {
	f.sinceLog = append(f.sinceLog, since)
	var fresh []confluence.Comment
	for _, c := range f.comments[pageID] {
		if c.CreatedAt.After(since) {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}

type captureDispatcher struct {
	events []event.Event
}

func (d *captureDispatcher) Dispatch(ev event.Event) { d.events = append(d.events, ev) }

func TestTick_SynthesisesApproval(t *testing.T) {
	pages := &fakePages{
		pages:  []*confluence.Page{{ID: "p1", Title: "[d-1] Payments"}},
		states: map[string]string{"p1": "approved"},
	}
	d := &captureDispatcher{}
	p := New(pages, d, time.Minute, testLogger())

	p.Tick(context.Background())

	require.Len(t, d.events, 1)
	assert.Equal(t, event.PageApproved, d.events[0].Type)
	assert.Equal(t, "p1", d.events[0].PageID)
	assert.Equal(t, "d-1", d.events[0].DesignID)
}

func TestTick_SkipsPagesWithoutDesignID(t *testing.T) {
	pages := &fakePages{
		pages:  []*confluence.Page{{ID: "p1", Title: "Meeting notes"}},
		states: map[string]string{"p1": "approved"},
	}
	d := &captureDispatcher{}
	p := New(pages, d, time.Minute, testLogger())

	p.Tick(context.Background())
	assert.Empty(t, d.events)
}

func TestTick_EmitsOneEventPerNewComment(t *testing.T) {
	now := time.Now().UTC()
	pages := &fakePages{
		pages:  []*confluence.Page{{ID: "p1", Title: "[d-1] Payments"}},
		states: map[string]string{"p1": "In Review"},
		comments: map[string][]confluence.Comment{
			"p1": {
				{ID: "c1", Body: "looks good", Author: "Ada", CreatedAt: now.Add(time.Minute)},
				{ID: "c2", Body: "one question", Author: "Grace", CreatedAt: now.Add(2 * time.Minute)},
			},
		},
	}
	d := &captureDispatcher{}
	p := New(pages, d, time.Minute, testLogger())

	p.Tick(context.Background())

	require.Len(t, d.events, 2)
	for _, ev := range d.events {
		assert.Equal(t, event.PageComment, ev.Type)
		require.Len(t, ev.Comments, 1)
	}
	assert.Equal(t, []string{"looks good"}, d.events[0].Comments)
	assert.Equal(t, "Ada", d.events[0].SenderName)
}

func TestTick_AdvancesSinceWatermark(t *testing.T) {
	pages := &fakePages{
		pages:  []*confluence.Page{{ID: "p1", Title: "[d-1] Payments"}},
		states: map[string]string{"p1": "In Review"},
	}
	p := New(pages, &captureDispatcher{}, time.Minute, testLogger())

	first := p.lastSince
	p.Tick(context.Background())
	assert.True(t, p.lastSince.After(first) || p.lastSince.Equal(first))

	second := p.lastSince
	p.Tick(context.Background())
	require.Len(t, pages.sinceLog, 2)
	assert.Equal(t, second, pages.sinceLog[1], "second tick filters against the first tick's start")
}

func TestTick_AbsorbsErrors(t *testing.T) {
	pages := &fakePages{listErr: errors.New("confluence is down")}
	p := New(pages, &captureDispatcher{}, time.Minute, testLogger())

	before := p.lastSince
	p.Tick(context.Background())
	assert.Equal(t, before, p.lastSince, "failed tick does not advance the watermark")
}

func TestRun_StopsOnCancel(t *testing.T) {
	pages := &fakePages{}
	p := New(pages, &captureDispatcher{}, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
