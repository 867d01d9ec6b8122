package download

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taehunt/careerbooks-backend/internal/auth"
	"github.com/taehunt/careerbooks-backend/internal/delivery"
	"github.com/taehunt/careerbooks-backend/internal/entitlement"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/log"
)

// Metrics counts finished download requests. *metrics.ServerMetrics
// implements it.
type Metrics interface {
	IncDownloadRequest(path, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) IncDownloadRequest(string, string) {}

const (
	pathFree = "free"
	pathPaid = "paid"
)

// API implements the download and purchase endpoints
type API struct {
	svc     *Service
	proxy   *delivery.Proxy
	metrics Metrics
}

func NewAPI(svc *Service, proxy *delivery.Proxy, m Metrics) *API {
	if m == nil {
		m = nopMetrics{}
	}
	return &API{svc: svc, proxy: proxy, metrics: m}
}

// RegisterRoutes attaches the endpoints to r. Preflight requests never get
// here; the cors middleware answers them.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/ping", api.HandlePing)

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/free-asset", api.HandleFree)
		r.Get("/{slug}", api.HandleDownload)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(api.svc.verifier))
		r.Get("/books/mine", api.HandleMine)
		r.Get("/books/{slug}/access", api.HandleAccess)
		r.With(api.svc.verifier.RequireAdminMiddleware).Post("/admin/purchases", api.HandleRecordPurchase)
	})
}

func (api *API) HandlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte("pong"))
}

// HandleFree streams the free asset to anyone.
func (api *API) HandleFree(w http.ResponseWriter, r *http.Request) {
	p := &Progress{}
	// the cors middleware has already applied the origin policy
	p.step(OriginChecked)
	plan := api.svc.Free(r.Context(), p)
	api.stream(w, r, p, pathFree, plan)
}

// HandleDownload streams a purchased book to its owner.
func (api *API) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	p := &Progress{}
	p.step(OriginChecked)

	plan, err := api.svc.Paid(ctx, p, r.Header.Get("Authorization"), slug)
	if err != nil {
		api.reject(ctx, w, p, pathPaid, slug, err)
		return
	}
	api.stream(w, r, p, pathPaid, plan)
}

func (api *API) stream(w http.ResponseWriter, r *http.Request, p *Progress, path string, plan Plan) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	start := time.Now()

	p.step(Streaming)
	res, err := api.proxy.Serve(ctx, w, plan.Location, plan.Stem)
	if err == nil {
		p.step(Completed)
		api.metrics.IncDownloadRequest(path, p.State().String())
		logger.Info(ctx, "download completed",
			"path", path,
			"state", p.State().String(),
			"name", plan.Stem,
			"source", delivery.Label(plan.Location),
			"bytes", res.Bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	if !res.Committed {
		api.reject(ctx, w, p, path, plan.Stem, err)
		return
	}

	// status is already sent; a truncated body is the only failure signal left
	p.Fail(err)
	api.metrics.IncDownloadRequest(path, string(res.Outcome))
	kv := []any{
		"path", path,
		"state", p.State().String(),
		"name", plan.Stem,
		"source", delivery.Label(plan.Location),
		"outcome", string(res.Outcome),
		"bytes", res.Bytes,
	}
	if res.Outcome == delivery.ClientGone {
		logger.Info(ctx, "download interrupted by client", kv...)
		return
	}
	logger.Error(ctx, err, "download aborted mid-stream", kv...)
	panic(http.ErrAbortHandler)
}

// reject finishes a request that failed before any byte was written.
func (api *API) reject(ctx context.Context, w http.ResponseWriter, p *Progress, path, name string, err error) {
	p.Fail(err)
	outcome := string(fault.ReasonOf(err))
	if outcome == "" {
		outcome = p.Kind().String()
	}
	api.metrics.IncDownloadRequest(path, outcome)

	kv := []any{
		"path", path,
		"state", p.State().String(),
		"kind", p.Kind().String(),
		"reason", outcome,
		"name", name,
	}
	logger := log.FromContext(ctx)
	if p.Kind().Status() >= http.StatusInternalServerError {
		logger.Error(ctx, err, "download failed", kv...)
	} else {
		logger.Warn(ctx, "download denied", append(kv, "cause", err.Error())...)
	}
	if p.Kind() == fault.Unauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="careerbooks"`)
	}
	fault.WriteJSON(w, err)
}

// AccessResponse is the entitlement view of one book.
type AccessResponse struct {
	Slug      string             `json:"slug"`
	Allowed   bool               `json:"allowed"`
	Reason    entitlement.Reason `json:"reason"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

func (api *API) HandleAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, _ := auth.ClaimsFrom(ctx)
	slug := chi.URLParam(r, "slug")

	d, err := api.svc.Access(ctx, c, slug)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	resp := AccessResponse{Slug: slug, Allowed: d.Allowed, Reason: d.Reason}
	if !d.ExpiresAt.IsZero() {
		exp := d.ExpiresAt
		resp.ExpiresAt = &exp
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

type MineResponse struct {
	Items []Owned `json:"items"`
}

func (api *API) HandleMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, _ := auth.ClaimsFrom(ctx)

	items, err := api.svc.Mine(ctx, c)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, MineResponse{Items: items})
}

type PurchaseRequest struct {
	AccountID string `json:"account_id"`
	Slug      string `json:"slug"`
}

type PurchaseResponse struct {
	AccountID   string    `json:"account_id"`
	Slug        string    `json:"slug"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// HandleRecordPurchase is the operator hook the purchase flow calls once
// payment has cleared.
func (api *API) HandleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PurchaseRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		api.writeError(ctx, w, fault.Wrap(err, fault.BadRequest, fault.None, "invalid request body"))
		return
	}

	at, err := api.svc.RecordPurchase(ctx, req.AccountID, req.Slug)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	c, _ := auth.ClaimsFrom(ctx)
	log.FromContext(ctx).Info(ctx, "purchase recorded",
		"account_id", req.AccountID,
		"slug", req.Slug,
		"operator", c.Subject,
	)
	api.writeJSON(ctx, w, http.StatusCreated, PurchaseResponse{
		AccountID:   req.AccountID,
		Slug:        req.Slug,
		PurchasedAt: at,
	})
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := fault.KindOf(err).Status()
	logger := log.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, err, "request failed")
	} else {
		logger.Debug(ctx, "request rejected", "reason", string(fault.ReasonOf(err)), "cause", err.Error())
	}
	fault.WriteJSON(w, err)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
