package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// VoteUp marks a review as helpful; the empty string means no vote.
const VoteUp = "up"

var ErrInvalidReview = errors.New("invalid review")

type Review struct {
	ID           string       `json:"id"`
	ProductID    string       `json:"productId"`
	Author       string       `json:"author,omitempty"`
	Rating       int          `json:"rating"`
	Body         string       `json:"body"`
	CreatedAt    time.Time    `json:"createdAt"`
	Status       ReviewStatus `json:"status"`
	HelpfulCount int          `json:"helpfulCount"`
	MyVote       string       `json:"myVote,omitempty"`
}

func (r Review) Validate() error {
	if r.ID == "" || r.ProductID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidReview)
	}
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating %d", ErrInvalidReview, r.Rating)
	}
	if r.HelpfulCount < 0 {
		return fmt.Errorf("%w: negative helpful count", ErrInvalidReview)
	}
	return nil
}

// ApplyVote moves MyVote to vote and adjusts HelpfulCount by the difference,
// never below zero.
func (r Review) ApplyVote(vote string) Review {
	switch {
	case r.MyVote != VoteUp && vote == VoteUp:
		r.HelpfulCount++
	case r.MyVote == VoteUp && vote != VoteUp:
		r.HelpfulCount--
	}
	if r.HelpfulCount < 0 {
		r.HelpfulCount = 0
	}
	r.MyVote = vote
	return r
}

// ReviewInput is the form payload for a new review.
type ReviewInput struct {
	Rating int    `json:"rating"`
	Body   string `json:"body"`
}

type ReviewPage struct {
	Items    []Review `json:"items"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Total    int      `json:"total"`
}

func (p ReviewPage) Clone() ReviewPage {
	out := p
	if p.Items != nil {
		out.Items = make([]Review, len(p.Items))
		copy(out.Items, p.Items)
	}
	return out
}

func (p ReviewPage) Index(reviewID string) int {
	for i, r := range p.Items {
		if r.ID == reviewID {
			return i
		}
	}
	return -1
}

func (p ReviewPage) Validate() error {
	for _, r := range p.Items {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ReviewQuery selects one page of a product's reviews.
type ReviewQuery struct {
	Sort   string
	Page   int
	Rating int
}

// Encode is the canonical form used in cache keys and request query strings.
func (q ReviewQuery) Encode() string {
	v := url.Values{}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Page > 1 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Rating >= 1 && q.Rating <= 5 {
		v.Set("rating", strconv.Itoa(q.Rating))
	}
	return v.Encode()
}

func ParseReviewQuery(s string) ReviewQuery {
	v, err := url.ParseQuery(s)
	if err != nil {
		return ReviewQuery{}
	}
	q := ReviewQuery{Sort: v.Get("sort")}
	q.Page, _ = strconv.Atoi(v.Get("page"))
	q.Rating, _ = strconv.Atoi(v.Get("rating"))
	return q
}

// ReviewStats aggregates a product's ratings; Distribution[i] counts rating i+1.
type ReviewStats struct {
	ProductID     string  `json:"productId"`
	AverageRating float64 `json:"averageRating"`
	TotalCount    int     `json:"totalCount"`
	Distribution  [5]int  `json:"distribution"`
}

func (s ReviewStats) Clone() ReviewStats { return s }

// Add counts one more rating and re-derives the total and average.
func (s ReviewStats) Add(rating int) ReviewStats {
	if rating < 1 || rating > 5 {
		return s
	}
	s.Distribution[rating-1]++
	s.recompute()
	return s
}

func (s *ReviewStats) recompute() {
	total, sum := 0, 0
	for i, n := range s.Distribution {
		total += n
		sum += (i + 1) * n
	}
	s.TotalCount = total
	if total == 0 {
		s.AverageRating = 0
		return
	}
	s.AverageRating = float64(sum) / float64(total)
}

// Consistent reports whether TotalCount matches the distribution.
func (s ReviewStats) Consistent() bool {
	total := 0
	for _, n := range s.Distribution {
		total += n
	}
	return total == s.TotalCount
}

func (s ReviewStats) Validate() error {
	for _, n := range s.Distribution {
		if n < 0 {
			return fmt.Errorf("%w: negative bucket", ErrInvalidReview)
		}
	}
	if !s.Consistent() {
		return fmt.Errorf("%w: total %d does not match distribution", ErrInvalidReview, s.TotalCount)
	}
	return nil
}

// VoteResult is the server's answer to a helpful vote.
type VoteResult struct {
	ReviewID     string `json:"reviewId"`
	HelpfulCount int    `json:"helpfulCount"`
	MyVote       string `json:"myVote,omitempty"`
}

func (v VoteResult) Validate() error {
	if v.HelpfulCount < 0 {
		return fmt.Errorf("%w: negative helpful count", ErrInvalidReview)
	}
	return nil
}
