package services

import (
	"context"
	"strings"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/mutation"
	"storefront/internal/validate"
)

type CreateReview struct {
	ProductID string
	Author    string
	Rating    int
	Body      string
}

type VoteReview struct {
	ProductID string
	ReviewID  string
	// Vote is domain.VoteUp or empty to withdraw.
	Vote string
}

type ReviewService struct {
	env     Env
	backend ReviewBackend

	Create *mutation.Mutation[CreateReview, domain.Review]
	Vote   *mutation.Mutation[VoteReview, domain.VoteResult]
}

func NewReviewService(env Env, backend ReviewBackend) *ReviewService {
	s := &ReviewService{env: env.withDefaults(), backend: backend}
	s.Create = newMutation(s.env, "review.create", s.createAdapter())
	s.Vote = newMutation(s.env, "review.vote", s.voteAdapter())
	return s
}

func (s *ReviewService) FetchList(ctx context.Context, k cache.Key) (domain.ReviewPage, error) {
	return s.backend.ListReviews(ctx, k.Scope, domain.ParseReviewQuery(k.Params))
}

func (s *ReviewService) FetchStats(ctx context.Context, k cache.Key) (domain.ReviewStats, error) {
	return s.backend.ReviewStats(ctx, k.Scope)
}

func (s *ReviewService) List(ctx context.Context, productID string, q domain.ReviewQuery) (domain.ReviewPage, error) {
	return cache.Fetch[domain.ReviewPage](ctx, s.env.Store, cache.ReviewListKey(productID, q.Encode()))
}

func (s *ReviewService) Stats(ctx context.Context, productID string) (domain.ReviewStats, error) {
	return cache.Fetch[domain.ReviewStats](ctx, s.env.Store, cache.ReviewStatsKey(productID))
}

// ToggleVoteVars withdraws a helpful vote already cast, otherwise casts one.
func (s *ReviewService) ToggleVoteVars(productID, reviewID string) VoteReview {
	v := VoteReview{ProductID: productID, ReviewID: reviewID, Vote: domain.VoteUp}
	for _, k := range s.env.Store.Keys(cache.ResourceReviewList, productID) {
		page, ok := cache.Read[domain.ReviewPage](s.env.Store, k)
		if !ok {
			continue
		}
		if i := page.Index(reviewID); i >= 0 {
			if page.Items[i].MyVote == domain.VoteUp {
				v.Vote = ""
			}
			break
		}
	}
	return v
}

func (s *ReviewService) listKeys(productID string) []cache.Key {
	return s.env.Store.Keys(cache.ResourceReviewList, productID)
}

// showsNew reports whether a freshly created review belongs on the page.
func showsNew(k cache.Key, rating int) bool {
	q := domain.ParseReviewQuery(k.Params)
	return q.Page <= 1 && (q.Rating == 0 || q.Rating == rating)
}

func (s *ReviewService) createAdapter() mutation.Funcs[CreateReview, domain.Review] {
	return mutation.Funcs[CreateReview, domain.Review]{
		GuardKey: func(v CreateReview) string { return "create:" + v.ProductID },
		Keys: func(v CreateReview) []cache.Key {
			return append(s.listKeys(v.ProductID), cache.ReviewStatsKey(v.ProductID))
		},
		Validate: func(v CreateReview) error {
			if strings.TrimSpace(v.ProductID) == "" {
				return mutation.Invalid("productId", "required")
			}
			if !validate.Rating(v.Rating) {
				return mutation.Invalid("rating", "must be between 1 and 5")
			}
			if _, ok := validate.ReviewBody(v.Body); !ok {
				return mutation.Invalid("body", "must be 10 to 2000 characters")
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v CreateReview) {
			body, _ := validate.ReviewBody(v.Body)
			pending := domain.Review{
				ID:        tx.TempID,
				ProductID: v.ProductID,
				Author:    v.Author,
				Rating:    v.Rating,
				Body:      body,
				CreatedAt: s.env.now(),
				Status:    domain.ReviewPending,
			}
			for _, k := range tx.Keys() {
				switch k.Resource {
				case cache.ResourceReviewList:
					if !showsNew(k, v.Rating) {
						continue
					}
					mutation.Patch(tx, k, func(p domain.ReviewPage) domain.ReviewPage {
						p.Items = append([]domain.Review{pending}, p.Items...)
						p.Total++
						return p
					})
					mutation.Revert(tx, k, func(p domain.ReviewPage) domain.ReviewPage {
						if i := p.Index(tx.TempID); i >= 0 {
							p.Items = append(p.Items[:i], p.Items[i+1:]...)
							p.Total--
						}
						return p
					})
				case cache.ResourceReviewStats:
					mutation.Patch(tx, k, func(st domain.ReviewStats) domain.ReviewStats {
						return st.Add(v.Rating)
					})
				}
			}
		},
		Request: func(ctx context.Context, v CreateReview) (domain.Review, error) {
			body, _ := validate.ReviewBody(v.Body)
			return s.backend.CreateReview(ctx, v.ProductID, domain.ReviewInput{Rating: v.Rating, Body: body})
		},
		// Stats keep the optimistic bucket; the settle refetch brings the
		// server's figures.
		Reconcile: func(tx *mutation.Tx, v CreateReview, r domain.Review) {
			for _, k := range tx.Keys() {
				if k.Resource != cache.ResourceReviewList {
					continue
				}
				mutation.Patch(tx, k, func(p domain.ReviewPage) domain.ReviewPage {
					if i := p.Index(tx.TempID); i >= 0 {
						p.Items[i] = r
					}
					return p
				})
			}
		},
		OnCommit: func(ctx context.Context, v CreateReview, r domain.Review) {
			desc := ""
			if r.Status == domain.ReviewPending || r.Status == "" {
				desc = "It will appear once approved."
			}
			s.env.success("review-create-"+v.ProductID, "Review submitted", desc)
			s.env.Telemetry.Event(ctx, "review.created", map[string]any{"productId": v.ProductID, "rating": v.Rating})
		},
		OnRollback: func(ctx context.Context, v CreateReview, err error) {
			s.env.failure(ctx, "review-create-"+v.ProductID, "Couldn't submit review", err, map[string]any{"productId": v.ProductID})
		},
	}
}

func (s *ReviewService) voteAdapter() mutation.Funcs[VoteReview, domain.VoteResult] {
	patchReview := func(tx *mutation.Tx, reviewID string, fn func(domain.Review) domain.Review) {
		for _, k := range tx.Keys() {
			mutation.Patch(tx, k, func(p domain.ReviewPage) domain.ReviewPage {
				if i := p.Index(reviewID); i >= 0 {
					p.Items[i] = fn(p.Items[i])
				}
				return p
			})
		}
	}
	return mutation.Funcs[VoteReview, domain.VoteResult]{
		GuardKey: func(v VoteReview) string { return "vote:" + v.ReviewID },
		Keys:     func(v VoteReview) []cache.Key { return s.listKeys(v.ProductID) },
		Validate: func(v VoteReview) error {
			if strings.TrimSpace(v.ProductID) == "" {
				return mutation.Invalid("productId", "required")
			}
			if err := requireStoredID(v.ReviewID); err != nil {
				return err
			}
			if v.Vote != "" && v.Vote != domain.VoteUp {
				return mutation.Invalid("vote", "must be up or empty")
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v VoteReview) {
			var prev *domain.Review
			patchReview(tx, v.ReviewID, func(r domain.Review) domain.Review {
				if prev == nil {
					p := r
					prev = &p
				}
				return r.ApplyVote(v.Vote)
			})
			for _, k := range tx.Keys() {
				mutation.Revert(tx, k, func(p domain.ReviewPage) domain.ReviewPage {
					if i := p.Index(v.ReviewID); i >= 0 && prev != nil && p.Items[i].MyVote == v.Vote {
						p.Items[i] = p.Items[i].ApplyVote(prev.MyVote)
					}
					return p
				})
			}
		},
		Request: func(ctx context.Context, v VoteReview) (domain.VoteResult, error) {
			return s.backend.VoteReview(ctx, v.ReviewID, v.Vote)
		},
		Reconcile: func(tx *mutation.Tx, v VoteReview, res domain.VoteResult) {
			patchReview(tx, v.ReviewID, func(r domain.Review) domain.Review {
				r.HelpfulCount = res.HelpfulCount
				r.MyVote = res.MyVote
				return r
			})
		},
		OnCommit: func(ctx context.Context, v VoteReview, _ domain.VoteResult) {
			title := "Thanks for your feedback"
			if v.Vote == "" {
				title = "Vote removed"
			}
			s.env.success("review-vote-"+v.ReviewID, title, "")
		},
		OnRollback: func(ctx context.Context, v VoteReview, err error) {
			s.env.failure(ctx, "review-vote-"+v.ReviewID, "Couldn't record your vote", err, map[string]any{"reviewId": v.ReviewID})
		},
	}
}
