// Package poller bridges Confluence into the event bus. Confluence
// does not push webhooks here, so a periodic pull synthesises
// page:approved and page:comment events from page state.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/confluence"
	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/ingest"
)

// Pages is the document-store surface the poller needs.
type Pages interface {
	GetPagesInReview(ctx context.Context) ([]*confluence.Page, error)
	GetContentState(ctx context.Context, pageID string) (string, error)
	GetNewComments(ctx context.Context, pageID string, since time.Time) ([]confluence.Comment, error)
}

// Dispatcher receives the synthesised events.
type Dispatcher interface {
	Dispatch(ev event.Event)
}

// Poller pulls Confluence state on an interval.
type Poller struct {
	pages      Pages
	dispatcher Dispatcher
	interval   time.Duration
	lastSince  time.Time
	logger     zerolog.Logger
}

// New creates a poller. The first tick only reports comments created
// after startup.
func New(pages Pages, dispatcher Dispatcher, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		pages:      pages,
		dispatcher: dispatcher,
		interval:   interval,
		lastSince:  time.Now().UTC(),
		logger:     logger.With().Str("component", "poller").Logger(),
	}
}

// Run ticks until ctx is cancelled. Every error is absorbed: a failed
// tick is logged and the next tick proceeds normally.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("poller started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one poll cycle. Exported for tests.
func (p *Poller) Tick(ctx context.Context) {
	nextSince := time.Now().UTC()

	pages, err := p.pages.GetPagesInReview(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("listing pages in review failed")
		return
	}

	for _, page := range pages {
		designID := ingest.ExtractDesignID(page.Title)
		if designID == "" {
			continue
		}
		p.checkApproval(ctx, page, designID)
		p.checkComments(ctx, page, designID)
	}

	p.lastSince = nextSince
}

func (p *Poller) checkApproval(ctx context.Context, page *confluence.Page, designID string) {
	state, err := p.pages.GetContentState(ctx, page.ID)
	if err != nil {
		p.logger.Warn().Err(err).Str("page_id", page.ID).Msg("content state fetch failed")
		return
	}
	if state != "approved" {
		return
	}

	ev := event.New(event.SourceConfluence, event.PageApproved)
	ev.PageID = page.ID
	ev.DesignID = designID
	p.dispatcher.Dispatch(ev)
}

func (p *Poller) checkComments(ctx context.Context, page *confluence.Page, designID string) {
	comments, err := p.pages.GetNewComments(ctx, page.ID, p.lastSince)
	if err != nil {
		p.logger.Warn().Err(err).Str("page_id", page.ID).Msg("comment fetch failed")
		return
	}

	for _, cm := range comments {
		ev := event.New(event.SourceConfluence, event.PageComment)
		ev.PageID = page.ID
		ev.DesignID = designID
		ev.SenderName = cm.Author
		ev.Comments = []string{cm.Body}
		p.dispatcher.Dispatch(ev)
	}
}
