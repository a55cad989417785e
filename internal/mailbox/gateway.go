package mailbox

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/internal/cache"
	"github.com/brandon/mailmirror/internal/metrics"
	"github.com/brandon/mailmirror/pkg/types"
)

const (
	// MaxVisible is the most rows any one view exposes across all its pages
	MaxVisible = 100

	// DefaultPageSize applies when the caller asks for no particular limit
	DefaultPageSize = 20
)

// ViewStore is the read side of the mirror store
type ViewStore interface {
	ListView(ctx context.Context, f cache.ViewFilter, offset, limit int) ([]types.MirroredMessage, error)
	CountView(ctx context.Context, f cache.ViewFilter, ceiling int) (cache.ViewCounts, error)
	GetMessage(ctx context.Context, ownerID, id int64) (*types.MirroredMessage, error)
}

// Window is the slice of a view one page may read
type Window struct {
	Page  int
	Limit int
	Skip  int
	Take  int
}

// PageWindow clamps a page request to the first MaxVisible rows of a view.
// Pages start at 1; values below 1 are treated as 1, and limit < 1 as DefaultPageSize.
func PageWindow(page, limit int) Window {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxVisible {
		limit = MaxVisible
	}

	skip := MaxVisible
	if page-1 < math.MaxInt/limit {
		skip = min((page-1)*limit, MaxVisible)
	}
	take := max(0, min(limit, MaxVisible-skip))

	return Window{Page: page, Limit: limit, Skip: skip, Take: take}
}

// Gateway serves bounded, paginated views of an owner's mirror
type Gateway struct {
	store   ViewStore
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewGateway creates a new read gateway
func NewGateway(store ViewStore, m *metrics.Metrics, logger *logrus.Logger) *Gateway {
	return &Gateway{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// ListInbox returns one page of the owner's inbox, optionally filtered by search
func (g *Gateway) ListInbox(ctx context.Context, owner types.Account, page, limit int, search string) (*types.MessagePage, error) {
	return g.list(ctx, cache.ViewFilter{OwnerID: owner.ID, Category: types.CategoryInbox, Search: search}, page, limit)
}

// ListSent returns one page of the owner's sent messages
func (g *Gateway) ListSent(ctx context.Context, owner types.Account, page, limit int) (*types.MessagePage, error) {
	return g.list(ctx, cache.ViewFilter{OwnerID: owner.ID, Category: types.CategorySent}, page, limit)
}

// GetMessage returns one of the owner's messages
func (g *Gateway) GetMessage(ctx context.Context, owner types.Account, id int64) (*types.MirroredMessage, error) {
	msg, err := g.store.GetMessage(ctx, owner.ID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (g *Gateway) list(ctx context.Context, f cache.ViewFilter, page, limit int) (*types.MessagePage, error) {
	g.metrics.RecordViewRequest(string(f.Category))
	w := PageWindow(page, limit)

	counts, err := g.store.CountView(ctx, f, MaxVisible)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s view: %w", f.Category, err)
	}

	messages := []types.MirroredMessage{}
	if w.Take > 0 {
		messages, err = g.store.ListView(ctx, f, w.Skip, w.Take)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s view: %w", f.Category, err)
		}
	}

	result := &types.MessagePage{
		Messages:    messages,
		Page:        w.Page,
		Limit:       w.Limit,
		Total:       counts.Total,
		TotalPages:  (counts.Total + w.Limit - 1) / w.Limit,
		HasMore:     w.Skip+len(messages) < counts.Total,
		UnreadCount: counts.Unread,
	}

	g.logger.WithFields(logrus.Fields{
		"owner_id": f.OwnerID,
		"category": f.Category,
		"page":     w.Page,
		"returned": len(messages),
		"total":    counts.Total,
	}).Debug("Served mailbox view")

	return result, nil
}
