// Package chat is the read/write path for family channels.
//
// Only members of a channel's family may list or post. Messages keep their
// author id after the author deregisters; the display name is resolved at
// read time and falls back to identity.RemovedUserName.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"hearth/cmd/identity"
	"hearth/cmd/internal/metrics"
	"hearth/cmd/internal/ratelimit"
	"hearth/cmd/internal/store"
)

const (
	// MaxMessageChars bounds a message body (runes).
	MaxMessageChars = 4000

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	// Per-author posting limit.
	postLimit  = 120
	postWindow = 10 * time.Second
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotMember       = errors.New("not a member of this family")
	ErrChannelNotFound = errors.New("channel not found")
	ErrRateLimited     = errors.New("too many messages")
	ErrInvalidSession  = errors.New("invalid or expired session")
)

// ChannelView is a channel as listed to members.
type ChannelView struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"familyId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView is a message with its resolved author attribution.
type MessageView struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channelId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HistoryQuery selects a page of messages older than (Before, BeforeID).
// A zero Before means now. BeforeID requires Before.
type HistoryQuery struct {
	Before   time.Time
	BeforeID string
	Limit    int
}

// History is one page, newest first. When HasMore is set, NextBefore and
// NextBeforeID address the following page.
type History struct {
	Messages     []MessageView `json:"messages"`
	HasMore      bool          `json:"hasMore"`
	NextBefore   *time.Time    `json:"nextBefore,omitempty"`
	NextBeforeID string        `json:"nextBeforeId,omitempty"`
}

// Service implements the chat operations.
type Service struct {
	store   store.Store
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPostLimiter replaces the per-author posting limiter.
func WithPostLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs a Service.
func NewService(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("chat: nil store")
	}
	s := &Service{
		store:   st,
		limiter: ratelimit.NewSlidingWindow(postLimit, postWindow),
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// ListChannels returns the channels of familyID.
func (s *Service) ListChannels(ctx context.Context, userID, familyID string) ([]ChannelView, error) {
	const op = "chat.ListChannels"

	familyID = strings.TrimSpace(familyID)
	if familyID == "" {
		return nil, fail(op, identity.ErrBadRequest, ErrInvalidInput)
	}

	out := make([]ChannelView, 0)
	err := s.store.View(ctx, func(r store.Repo) error {
		if err := authorize(ctx, r, op, userID, familyID); err != nil {
			return err
		}
		chs, err := r.ListChannels(ctx, familyID)
		if err != nil {
			return err
		}
		for _, c := range chs {
			out = append(out, ChannelView{ID: c.ID, FamilyID: c.FamilyID, Name: c.Name, CreatedAt: c.CreatedAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PostMessage appends body to channelID as userID.
func (s *Service) PostMessage(ctx context.Context, userID, channelID, body string) (MessageView, error) {
	const op = "chat.PostMessage"

	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > MaxMessageChars || strings.TrimSpace(channelID) == "" {
		return MessageView{}, fail(op, identity.ErrBadRequest, ErrInvalidInput)
	}

	now := s.now()
	ok, err := s.limiter.Allow(ctx, "post:"+userID, now)
	if err != nil {
		return MessageView{}, err
	}
	if !ok {
		s.metrics.RateLimited("chat_post")
		return MessageView{}, fail(op, identity.ErrBadRequest, ErrRateLimited)
	}

	var out MessageView
	err = s.store.InTx(ctx, func(r store.Repo) error {
		ch, err := channel(ctx, r, op, channelID)
		if err != nil {
			return err
		}
		if err := authorize(ctx, r, op, userID, ch.FamilyID); err != nil {
			return err
		}
		author, err := r.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		id, err := identity.NewULID(now)
		if err != nil {
			return err
		}
		m := identity.Message{ID: id, ChannelID: ch.ID, AuthorID: userID, Body: body, CreatedAt: now}
		if err := r.CreateMessage(ctx, m); err != nil {
			return err
		}
		out = view(m, &author)
		return nil
	})
	if err != nil {
		s.metrics.Event("chat.post", "fail")
		return MessageView{}, err
	}
	s.metrics.Event("chat.post", "ok")
	s.log.Debug("chat.post.ok", "channel_id", out.ChannelID, "message_id", out.ID)
	return out, nil
}

// ListMessages returns one page of channel history, newest first.
func (s *Service) ListMessages(ctx context.Context, userID, channelID string, q HistoryQuery) (History, error) {
	const op = "chat.ListMessages"

	if strings.TrimSpace(channelID) == "" || q.Limit < 0 || (q.BeforeID != "" && q.Before.IsZero()) {
		return History{}, fail(op, identity.ErrBadRequest, ErrInvalidInput)
	}
	limit := q.Limit
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	cur := store.MessageCursor{Before: q.Before, BeforeID: q.BeforeID}
	if cur.Before.IsZero() {
		cur.Before = s.now().Add(time.Nanosecond)
	}

	out := History{Messages: make([]MessageView, 0)}
	err := s.store.View(ctx, func(r store.Repo) error {
		ch, err := channel(ctx, r, op, channelID)
		if err != nil {
			return err
		}
		if err := authorize(ctx, r, op, userID, ch.FamilyID); err != nil {
			return err
		}

		msgs, err := r.ListMessages(ctx, ch.ID, cur, limit+1)
		if err != nil {
			return err
		}
		if len(msgs) > limit {
			msgs = msgs[:limit]
			last := msgs[limit-1]
			next := last.CreatedAt
			out.HasMore = true
			out.NextBefore, out.NextBeforeID = &next, last.ID
		}

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.AuthorID)
		}
		authors, err := r.GetUsers(ctx, ids)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			var a *identity.User
			if u, ok := authors[m.AuthorID]; ok {
				a = &u
			}
			out.Messages = append(out.Messages, view(m, a))
		}
		return nil
	})
	if err != nil {
		return History{}, err
	}
	return out, nil
}

func view(m identity.Message, author *identity.User) MessageView {
	return MessageView{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.AuthorID,
		AuthorName: identity.AuthorDisplayName(author),
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
	}
}

// authorize requires a live caller holding a membership in familyID.
func authorize(ctx context.Context, r store.Repo, op, userID, familyID string) error {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return fail(op, identity.ErrUnauthorized, ErrInvalidSession)
		}
		return err
	}
	if u.Deleted() {
		return fail(op, identity.ErrUnauthorized, ErrInvalidSession)
	}
	if _, err := r.GetMembership(ctx, userID, familyID); err != nil {
		if identity.IsNotFound(err) {
			return fail(op, identity.ErrForbidden, ErrNotMember)
		}
		return err
	}
	return nil
}

func channel(ctx context.Context, r store.Repo, op, id string) (identity.Channel, error) {
	ch, err := r.GetChannel(ctx, strings.TrimSpace(id))
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.Channel{}, fail(op, identity.ErrNotFound, ErrChannelNotFound)
		}
		return identity.Channel{}, err
	}
	return ch, nil
}

func fail(op string, kind, reason error) error {
	return identity.OpError{Op: op, Kind: kind, Reason: reason}
}
