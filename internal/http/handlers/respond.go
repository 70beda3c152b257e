package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	applog "storefront/internal/log"
	"storefront/internal/mutation"
	"storefront/internal/notify"
	"storefront/internal/services"
	"storefront/internal/shopper"
	"storefront/internal/transport"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// envelope is every JSON answer: the data, or an error, plus the toasts the
// session collected since the last response.
type envelope struct {
	Data   any            `json:"data,omitempty"`
	Error  *errorBody     `json:"error,omitempty"`
	Toasts []notify.Toast `json:"toasts,omitempty"`
}

func drain(c *fiber.Ctx) []notify.Toast {
	if s := sessionOf(c); s != nil {
		return s.Inbox.Drain()
	}
	return nil
}

func respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(envelope{Data: data, Toasts: drain(c)})
}

func fail(c *fiber.Ctx, action string, err error) error {
	status, body := classify(err)
	if status >= fiber.StatusInternalServerError {
		applog.Error(c, action, err, nil)
	} else {
		applog.Warn(c, action, err, map[string]any{"code": body.Code})
	}
	return c.Status(status).JSON(envelope{Error: &body, Toasts: drain(c)})
}

func invalid(c *fiber.Ctx, action, field, reason string) error {
	return fail(c, action, mutation.Invalid(field, reason))
}

// classify maps an error to a status and a message safe to show.
func classify(err error) (int, errorBody) {
	var ve *mutation.ValidationError
	var te *transport.Error
	switch {
	case errors.As(err, &ve):
		return fiber.StatusBadRequest, errorBody{Code: "invalid", Message: ve.Error(), Field: ve.Field}
	case errors.Is(err, mutation.ErrInProgress):
		return fiber.StatusConflict, errorBody{Code: "in_progress", Message: "This change is already being saved."}
	case errors.Is(err, shopper.ErrNotSignedIn):
		return fiber.StatusUnauthorized, errorBody{Code: "not_signed_in", Message: "Please sign in first."}
	case errors.Is(err, services.ErrNoCart):
		return fiber.StatusConflict, errorBody{Code: "no_cart", Message: "Your cart is not ready yet."}
	case errors.Is(err, services.ErrLocalNotFound):
		return fiber.StatusNotFound, errorBody{Code: "not_found", Message: "Not found."}
	case errors.Is(err, services.ErrStorage):
		return fiber.StatusInsufficientStorage, errorBody{Code: "storage", Message: "Could not save on this device."}
	case errors.As(err, &te) && te.Status >= 400 && te.Status < 500:
		return te.Status, errorBody{Code: te.Code, Message: transport.UserMessage(err)}
	case errors.As(err, &te):
		return fiber.StatusBadGateway, errorBody{Code: "upstream_unavailable", Message: services.GenericFailure}
	}
	return fiber.StatusInternalServerError, errorBody{Code: "internal", Message: services.GenericFailure}
}

func prefersAsync(c *fiber.Ctx) bool {
	return strings.Contains(strings.ToLower(c.Get("Prefer")), "respond-async")
}

// run executes m for the request. With "Prefer: respond-async" the answer is
// 202 as soon as the optimistic state is in the cache; otherwise the server
// outcome is awaited. view, when set, supplies the response data read back
// from the cache; without it the server result is returned.
func run[V, R any](c *fiber.Ctx, action string, m *mutation.Mutation[V, R], vars V, view func() any) error {
	if prefersAsync(c) {
		call := m.Mutate(context.WithoutCancel(c.UserContext()), vars)
		if call == nil {
			return fail(c, action+".fail", mutation.ErrInProgress)
		}
		select {
		case <-call.Done():
			if _, err := call.Result(); err != nil {
				return fail(c, action+".fail", err)
			}
		default:
		}
		applog.Audit(c, action, map[string]any{"async": true})
		var data any
		if view != nil {
			data = view()
		}
		return respond(c, fiber.StatusAccepted, data)
	}

	res, err := m.MutateAsync(c.UserContext(), vars)
	if err != nil {
		return fail(c, action+".fail", err)
	}
	applog.Audit(c, action, nil)
	if view != nil {
		return respond(c, fiber.StatusOK, view())
	}
	return respond(c, fiber.StatusOK, res)
}

// ErrorHandler is the app-wide fallback: logged, never leaking internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		applog.Warn(c, "server.reject", err, nil)
		return c.Status(fe.Code).JSON(envelope{Error: &errorBody{Code: "http_error", Message: fe.Message}})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(envelope{
		Error: &errorBody{Code: "internal", Message: services.GenericFailure},
	})
}
