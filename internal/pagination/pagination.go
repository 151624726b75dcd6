// Package pagination implements cursor-based paging over a message sequence
// ordered by (timestamp, seq).
package pagination

import (
	"errors"
	"sort"
	"time"

	"murmur/internal/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("only one of before, after and around may be set")

// Request selects a page. At most one cursor may be set; none means Latest.
type Request struct {
	Limit  int
	Before *time.Time
	After  *time.Time
	Around string
}

type Page struct {
	Messages      []models.Message `json:"messages"`
	HasMoreBefore bool             `json:"has_more_before"`
	HasMoreAfter  bool             `json:"has_more_after"`
}

// Normalize clamps the limit and rejects conflicting cursors.
func (r Request) Normalize() (Request, error) {
	set := 0
	if r.Before != nil {
		set++
	}
	if r.After != nil {
		set++
	}
	if r.Around != "" {
		set++
	}
	if set > 1 {
		return r, ErrInvalidCursor
	}
	if r.Limit <= 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	return r, nil
}

// Paginate returns the page of msgs selected by req. msgs must already be
// ordered by (timestamp, seq); the returned slice aliases it.
func Paginate(msgs []models.Message, req Request) Page {
	n := len(msgs)
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	switch {
	case req.Before != nil:
		end := sort.Search(n, func(i int) bool { return !msgs[i].Timestamp.Before(*req.Before) })
		start := max(0, end-limit)
		return window(msgs, start, end)

	case req.After != nil:
		start := sort.Search(n, func(i int) bool { return msgs[i].Timestamp.After(*req.After) })
		end := min(n, start+limit)
		return window(msgs, start, end)

	case req.Around != "":
		for i := range msgs {
			if msgs[i].ID != req.Around {
				continue
			}
			before := limit / 2
			after := limit - before - 1
			return window(msgs, max(0, i-before), min(n, i+1+after))
		}
	}

	return window(msgs, max(0, n-limit), n)
}

func window(msgs []models.Message, start, end int) Page {
	return Page{
		Messages:      msgs[start:end],
		HasMoreBefore: start > 0,
		HasMoreAfter:  end < len(msgs),
	}
}
