package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"storefront/internal/domain"
	"storefront/internal/guest"
	"storefront/internal/http/handlers"
	"storefront/internal/notify"
	"storefront/internal/remote"
	"storefront/internal/shopper"
	"storefront/internal/telemetry"
	"storefront/internal/transport"
)

// upstream is a small in-memory storefront API.
type upstream struct {
	mu      sync.Mutex
	cart    domain.Cart
	addGate chan struct{}
	addErr  *apiError
	reviews []domain.Review
}

type apiError struct {
	status int
	code   string
	msg    string
}

func newUpstream() *upstream {
	return &upstream{
		cart:    domain.Cart{ID: "c1", Items: []domain.CartItem{}},
		reviews: []domain.Review{{ID: "r1", ProductID: "p1", Rating: 4, Body: "Enak sekali", Status: domain.ReviewApproved, HelpfulCount: 3}},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (u *upstream) cartCopy() domain.Cart {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cart.Clone()
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/cart", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, u.cartCopy())
	})
	mux.HandleFunc("GET /api/v1/cart/c1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, u.cartCopy())
	})
	mux.HandleFunc("POST /api/v1/cart/c1/items", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if u.addGate != nil {
			<-u.addGate
		}
		if e := u.addErr; e != nil {
			writeJSON(w, e.status, map[string]string{"code": e.code, "message": e.msg})
			return
		}
		u.mu.Lock()
		u.cart.Items = append(u.cart.Items, domain.CartItem{ID: "i1", ProductID: in.ProductID, Name: "Kopi", Quantity: in.Quantity, Price: domain.IDR(50000)})
		u.cart.Recalculate()
		c := u.cart.Clone()
		u.mu.Unlock()
		writeJSON(w, 200, c)
	})
	mux.HandleFunc("DELETE /api/v1/cart/c1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		i := u.cart.Index(r.PathValue("id"))
		if i < 0 {
			writeJSON(w, 404, map[string]string{"code": "not_found", "message": "Item not found"})
			return
		}
		u.cart.Items = append(u.cart.Items[:i], u.cart.Items[i+1:]...)
		u.cart.Recalculate()
		writeJSON(w, 200, u.cart.Clone())
	})
	mux.HandleFunc("DELETE /api/v1/cart/c1/items", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.cart.Items = []domain.CartItem{}
		u.cart.Recalculate()
		writeJSON(w, 200, u.cart.Clone())
	})
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "hunter22!" {
			writeJSON(w, 401, map[string]string{"code": "invalid_credentials", "message": "Wrong email or password"})
			return
		}
		writeJSON(w, 200, remote.Login{Token: "tok-u1", User: domain.User{ID: "u1", Email: in.Email, Name: "Sari"}})
	})
	mux.HandleFunc("GET /api/v1/products/p1/reviews", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		items := append([]domain.Review(nil), u.reviews...)
		writeJSON(w, 200, domain.ReviewPage{Items: items, Page: 1, PageSize: 10, Total: len(items)})
	})
	mux.HandleFunc("PUT /api/v1/reviews/r1/vote", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Vote string `json:"vote"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		u.mu.Lock()
		u.reviews[0] = u.reviews[0].ApplyVote(in.Vote)
		res := domain.VoteResult{ReviewID: "r1", HelpfulCount: u.reviews[0].HelpfulCount, MyVote: u.reviews[0].MyVote}
		u.mu.Unlock()
		writeJSON(w, 200, res)
	})
	return mux
}

type testApp struct {
	app      *fiber.App
	sessions *shopper.Manager
	deps     *handlers.Deps
}

func newTestApp(t *testing.T, up *upstream, tweak func(*handlers.Deps)) *testApp {
	t.Helper()
	srv := httptest.NewServer(up.handler())
	t.Cleanup(srv.Close)
	client, err := transport.NewClient(srv.URL+"/api/v1", transport.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	m := shopper.NewManager(shopper.Options{
		Dial:      func(tok string) *remote.API { return remote.New(client.WithToken(tok)) },
		Guest:     guest.NewMemory(),
		Telemetry: telemetry.Nop{},
	})
	t.Cleanup(m.Close)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Use(requestid.New())
	deps := handlers.NewDeps(m)
	if tweak != nil {
		tweak(deps)
	}
	deps.Mount(app)
	return &testApp{app: app, sessions: m, deps: deps}
}

type reply struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"error"`
	Toasts []notify.Toast `json:"toasts"`
	raw    string
}

// shopperClient carries one browser's sid cookie across requests.
type shopperClient struct {
	t   *testing.T
	app *fiber.App
	sid string
}

func (ta *testApp) client(t *testing.T) *shopperClient {
	return &shopperClient{t: t, app: ta.app}
}

func (sc *shopperClient) do(method, path string, body any, headers ...string) reply {
	sc.t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if sc.sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sc.sid})
	}
	resp, err := sc.app.Test(req, 5000)
	if err != nil {
		sc.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	for _, ck := range resp.Cookies() {
		if ck.Name == "sid" {
			sc.sid = ck.Value
		}
	}
	raw, _ := io.ReadAll(resp.Body)
	r := reply{Status: resp.StatusCode, raw: string(raw)}
	_ = json.Unmarshal(raw, &r)
	return r
}

func decode[T any](t *testing.T, r reply) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", r.raw, err)
	}
	return v
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	Owner  string         `json:"owner"`
	Fields map[string]any `json:"fields"`
}

type lockedBuf struct {
	b  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedBuf{b: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func hasAction(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}
