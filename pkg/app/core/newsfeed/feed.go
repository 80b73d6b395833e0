// Package newsfeed holds the anonymous comment feed. Comments are stored
// without any user identity; posting still requires a logged-in session so
// the boundary can throttle abuse, but the identity is dropped at this line.
package newsfeed

import (
	"strings"

	"github.com/google/uuid"

	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/util"
)

// DefaultRecentLimit matches the feed display.
const DefaultRecentLimit = 10

// Store persists comments append-only.
type Store interface {
	AppendComment(c *core.Comment) error
	// ListRecentComments returns comments newest first.
	ListRecentComments(limit int) ([]*core.Comment, error)
}

type Feed struct {
	store Store
	clock util.Clock
}

func New(store Store, clock util.Clock) *Feed {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Feed{store: store, clock: clock}
}

// Post validates and records a comment. The body is trimmed, must be
// non-empty, and may not exceed MaxCommentLen characters.
func (f *Feed) Post(body string) (*core.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &core.ValidationError{Field: "comment", Reason: "must not be empty"}
	}
	if len([]rune(body)) > core.MaxCommentLen {
		return nil, &core.ValidationError{Field: "comment", Reason: "exceeds 100 characters"}
	}

	c := &core.Comment{
		ID:        uuid.NewString(),
		Body:      body,
		CreatedAt: f.clock.Now().UnixNano(),
	}
	if err := f.store.AppendComment(c); err != nil {
		return nil, &core.PersistenceError{Op: "append comment", Err: err}
	}
	return c, nil
}

// Recent returns the latest comments, newest first.
func (f *Feed) Recent(limit int) ([]*core.Comment, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return f.store.ListRecentComments(limit)
}
