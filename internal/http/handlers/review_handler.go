package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type ReviewHandler struct{}

type reviewBody struct {
	Rating int    `json:"rating"`
	Body   string `json:"body"`
}

type voteBody struct {
	Vote *string `json:"vote"`
}

var reviewSorts = map[string]bool{"": true, "newest": true, "helpful": true, "rating_high": true, "rating_low": true}

func productID(c *fiber.Ctx) (string, bool) { return validate.ID(c.Params("id")) }

func (h *ReviewHandler) List(c *fiber.Ctx) error {
	pid, ok := productID(c)
	if !ok {
		return invalid(c, "review.list.fail", "productId", "required")
	}
	q := domain.ParseReviewQuery(string(c.Request().URI().QueryString()))
	if !reviewSorts[q.Sort] {
		return invalid(c, "review.list.fail", "sort", "unknown sort")
	}
	page, err := sessionOf(c).Services().Reviews.List(c.UserContext(), pid, q)
	if err != nil {
		return fail(c, "review.list.fail", err)
	}
	return respond(c, fiber.StatusOK, page)
}

func (h *ReviewHandler) Stats(c *fiber.Ctx) error {
	pid, ok := productID(c)
	if !ok {
		return invalid(c, "review.stats.fail", "productId", "required")
	}
	st, err := sessionOf(c).Services().Reviews.Stats(c.UserContext(), pid)
	if err != nil {
		return fail(c, "review.stats.fail", err)
	}
	return respond(c, fiber.StatusOK, st)
}

func (h *ReviewHandler) Create(c *fiber.Ctx) error {
	s := sessionOf(c)
	pid, ok := productID(c)
	if !ok {
		return invalid(c, "review.create.fail", "productId", "required")
	}
	var in reviewBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "review.create.fail", "", "malformed body")
	}
	author := "Guest"
	if u := s.Identity().User; u != nil && u.Name != "" {
		author = u.Name
	}
	vars := services.CreateReview{ProductID: pid, Author: author, Rating: in.Rating, Body: in.Body}
	return run(c, "review.create", s.Services().Reviews.Create, vars, nil)
}

// Vote sets the helpful vote given in the body, or toggles it when the body
// names none.
func (h *ReviewHandler) Vote(c *fiber.Ctx) error {
	svc := sessionOf(c).Services()
	pid, ok := productID(c)
	if !ok {
		return invalid(c, "review.vote.fail", "productId", "required")
	}
	vars := svc.Reviews.ToggleVoteVars(pid, c.Params("reviewId"))
	var in voteBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return invalid(c, "review.vote.fail", "", "malformed body")
		}
	}
	if in.Vote != nil {
		vars.Vote = *in.Vote
	}
	return run(c, "review.vote", svc.Reviews.Vote, vars, nil)
}
