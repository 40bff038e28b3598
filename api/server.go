// Package api exposes the control endpoints the chat front-end calls into:
// subscriber registration and plan/state changes, inline button callbacks,
// on-demand contact lookup, digests and benchmarks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"carwatch/models"
	"carwatch/scraper/divar"
	"carwatch/services"
	"carwatch/storage"
	"carwatch/utils"
)

// Contact lookup outcomes reported to the caller.
const (
	OutcomeContacts    = "contacts"
	OutcomeNoContact   = "no_contact"
	OutcomeRetry       = "retry"
	OutcomeNotEligible = "not_eligible"
	OutcomeUnavailable = "unavailable"
	OutcomeUpgrade     = "upgrade_required"
)

// ContactResolver looks up seller contacts for a subscriber.
type ContactResolver interface {
	Resolve(ctx context.Context, chatID int64, token string) ([]models.Contact, error)
}

// DigestSender delivers today's digest to a subscriber.
type DigestSender interface {
	Send(ctx context.Context, chatID int64) (int, error)
}

// BenchmarkEstimator returns the rolling price benchmark.
type BenchmarkEstimator interface {
	Estimate(ctx context.Context, brandModel string, year int) (models.Benchmark, error)
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Store           storage.Store
	Contacts        ContactResolver
	Digest          DigestSender
	Benchmarks      BenchmarkEstimator
	DefaultRegionID int
	Trial           time.Duration
	Logger          *utils.Logger
}

// Handler serves the control API.
type Handler struct {
	deps Deps
	now  func() time.Time
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, now: time.Now}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/subscribers", h.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{chatId:-?[0-9]+}/digest", h.handleDigest).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{chatId:-?[0-9]+}/plan", h.handlePlan).Methods(http.MethodPut)
	api.HandleFunc("/subscribers/{chatId:-?[0-9]+}/state", h.handleState).Methods(http.MethodPut)
	api.HandleFunc("/contact/{token}", h.handleContact).Methods(http.MethodPost)
	api.HandleFunc("/callbacks", h.handleCallback).Methods(http.MethodPost)
	api.HandleFunc("/benchmark", h.handleBenchmark).Methods(http.MethodGet)
}

// Router returns a fresh router with all routes registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.deps.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	ChatID   int64  `json:"chat_id"`
	Name     string `json:"name"`
	RegionID int    `json:"region_id"`
}

type subscriberResponse struct {
	ChatID             int64     `json:"chat_id"`
	Name               string    `json:"name"`
	Active             bool      `json:"active"`
	Plan               string    `json:"plan"`
	State              string    `json:"state"`
	RegionID           int       `json:"region_id"`
	MaxPrice           int64     `json:"max_price"`
	SubscriptionExpiry time.Time `json:"subscription_expiry"`
	Created            bool      `json:"created"`
}

// handleRegister creates a subscriber with trial defaults on first contact.
// Registering an existing chat is a no-op that returns the stored record.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	ctx := r.Context()

	sub, err := h.deps.Store.GetSubscriber(ctx, req.ChatID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toSubscriberResponse(sub, false))
		return
	case !errors.Is(err, storage.ErrNotFound):
		h.deps.Logger.Error("[api] Lookup subscriber %d: %v", req.ChatID, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	region := req.RegionID
	if region == 0 {
		region = h.deps.DefaultRegionID
	}
	sub = models.NewSubscriber(req.ChatID, req.Name, region, h.deps.Trial, h.now())
	if err := h.deps.Store.SaveSubscriber(ctx, sub); err != nil {
		h.deps.Logger.Error("[api] Save subscriber %d: %v", req.ChatID, err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	h.deps.Logger.Info("[api] Registered subscriber %d (%s) in region %d", sub.ChatID, sub.Name, region)
	writeJSON(w, http.StatusCreated, toSubscriberResponse(sub, true))
}

func toSubscriberResponse(s *models.Subscriber, created bool) subscriberResponse {
	return subscriberResponse{
		ChatID:             s.ChatID,
		Name:               s.Name,
		Active:             s.Active,
		Plan:               string(s.Plan),
		State:              string(s.State),
		RegionID:           s.Filters.RegionID,
		MaxPrice:           s.Filters.MaxPrice,
		SubscriptionExpiry: s.SubscriptionExpiry.UTC(),
		Created:            created,
	}
}

type contactRequest struct {
	ChatID int64 `json:"chat_id"`
}

type contactResponse struct {
	Outcome  string           `json:"outcome"`
	Contacts []models.Contact `json:"contacts,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

func (h *Handler) handleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	h.resolveContact(r.Context(), w, req.ChatID, mux.Vars(r)["token"])
}

type callbackRequest struct {
	ChatID int64  `json:"chat_id"`
	Data   string `json:"data"`
}

// handleCallback answers an inline button press. Phone buttons resolve the
// seller contact; upgrade prompts are acknowledged so the front-end can open
// its upgrade flow.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 || req.Data == "" {
		writeError(w, http.StatusBadRequest, "chat_id and data are required")
		return
	}
	if services.IsUpgradeCallback(req.Data) {
		writeJSON(w, http.StatusOK, contactResponse{Outcome: OutcomeUpgrade})
		return
	}
	token, ok := services.PhoneCallbackToken(req.Data)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown callback")
		return
	}
	h.resolveContact(r.Context(), w, req.ChatID, token)
}

func (h *Handler) resolveContact(ctx context.Context, w http.ResponseWriter, chatID int64, token string) {
	if !divar.ValidToken(token) {
		writeJSON(w, http.StatusBadRequest, contactResponse{Outcome: OutcomeUnavailable, Reason: "invalid token"})
		return
	}
	contacts, err := h.deps.Contacts.Resolve(ctx, chatID, token)
	status, resp := contactOutcome(contacts, err)
	if status == http.StatusInternalServerError {
		h.deps.Logger.Error("[api] Contact %s for %d: %v", token, chatID, err)
	}
	writeJSON(w, status, resp)
}

func contactOutcome(contacts []models.Contact, err error) (int, contactResponse) {
	switch {
	case err == nil && len(contacts) == 0:
		return http.StatusOK, contactResponse{Outcome: OutcomeNoContact}
	case err == nil:
		return http.StatusOK, contactResponse{Outcome: OutcomeContacts, Contacts: contacts}
	case errors.Is(err, services.ErrNotEligible):
		return http.StatusForbidden, contactResponse{Outcome: OutcomeNotEligible}
	case errors.Is(err, services.ErrRetryContact):
		return http.StatusServiceUnavailable, contactResponse{Outcome: OutcomeRetry}
	case errors.Is(err, services.ErrNoCredentials):
		return http.StatusServiceUnavailable, contactResponse{Outcome: OutcomeUnavailable, Reason: "no credentials"}
	case errors.Is(err, divar.ErrNotFound):
		return http.StatusNotFound, contactResponse{Outcome: OutcomeUnavailable, Reason: "listing removed"}
	case errors.Is(err, divar.ErrInvalidToken):
		return http.StatusBadRequest, contactResponse{Outcome: OutcomeUnavailable, Reason: "invalid token"}
	}
	return http.StatusInternalServerError, contactResponse{Outcome: OutcomeRetry}
}

func chatIDVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(mux.Vars(r)["chatId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	return chatID, true
}

// loadSubscriber writes the error response itself when it returns false.
func (h *Handler) loadSubscriber(ctx context.Context, w http.ResponseWriter, chatID int64) (*models.Subscriber, bool) {
	sub, err := h.deps.Store.GetSubscriber(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscriber not found")
		return nil, false
	case err != nil:
		h.deps.Logger.Error("[api] Lookup subscriber %d: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return nil, false
	}
	return sub, true
}

func (h *Handler) saveSubscriber(ctx context.Context, w http.ResponseWriter, sub *models.Subscriber) bool {
	if err := h.deps.Store.SaveSubscriber(ctx, sub); err != nil {
		h.deps.Logger.Error("[api] Save subscriber %d: %v", sub.ChatID, err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return false
	}
	return true
}

type planRequest struct {
	Plan string `json:"plan"`
	Days int    `json:"days"`
}

// handlePlan switches a subscriber's plan, optionally extending the
// subscription by whole days from now or from the current expiry, whichever
// is later.
func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDVar(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Days < 0 {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	plan, err := models.ParsePlan(req.Plan)
	if err != nil || strings.TrimSpace(req.Plan) == "" {
		writeError(w, http.StatusBadRequest, "unknown plan")
		return
	}
	ctx := r.Context()
	sub, ok := h.loadSubscriber(ctx, w, chatID)
	if !ok {
		return
	}

	sub.Plan = plan
	sub.Active = true
	if req.Days > 0 {
		from := h.now()
		if sub.SubscriptionExpiry.After(from) {
			from = sub.SubscriptionExpiry
		}
		sub.SubscriptionExpiry = from.Add(time.Duration(req.Days) * 24 * time.Hour)
	}
	if !h.saveSubscriber(ctx, w, sub) {
		return
	}
	h.deps.Logger.Info("[api] Subscriber %d now on %s until %s", chatID, plan, sub.SubscriptionExpiry.Format(time.DateOnly))
	writeJSON(w, http.StatusOK, toSubscriberResponse(sub, false))
}

type stateRequest struct {
	State string `json:"state"`
}

// handleState moves a subscriber through the conversation states. Moves the
// state machine does not allow are rejected with 409.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDVar(w, r)
	if !ok {
		return
	}
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	next := models.ConvState(strings.ToUpper(strings.TrimSpace(req.State)))
	if !next.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state")
		return
	}
	ctx := r.Context()
	sub, ok := h.loadSubscriber(ctx, w, chatID)
	if !ok {
		return
	}
	if !sub.State.CanTransition(next) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "transition not allowed",
			"state": string(sub.State),
		})
		return
	}
	sub.State = next
	if !h.saveSubscriber(ctx, w, sub) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(next)})
}

func (h *Handler) handleDigest(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDVar(w, r)
	if !ok {
		return
	}
	sent, err := h.deps.Digest.Send(r.Context(), chatID)
	switch {
	case errors.Is(err, services.ErrNotEligible):
		writeJSON(w, http.StatusForbidden, map[string]any{"outcome": OutcomeNotEligible})
	case err != nil:
		h.deps.Logger.Error("[api] Digest for %d: %v", chatID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"sent": sent, "error": "digest failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
	}
}

type benchmarkResponse struct {
	BrandModel string `json:"brand_model"`
	Year       int    `json:"year"`
	Available  bool   `json:"available"`
	Average    int64  `json:"average,omitempty"`
	Count      int    `json:"count"`
	Min        int64  `json:"min,omitempty"`
	Max        int64  `json:"max,omitempty"`
}

func (h *Handler) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	brandModel := q.Get("brand_model")
	year, err := strconv.Atoi(q.Get("year"))
	if brandModel == "" || err != nil {
		writeError(w, http.StatusBadRequest, "brand_model and numeric year are required")
		return
	}
	b, err := h.deps.Benchmarks.Estimate(r.Context(), brandModel, year)
	if err != nil {
		h.deps.Logger.Error("[api] Benchmark %s %d: %v", brandModel, year, err)
		writeError(w, http.StatusInternalServerError, "benchmark failed")
		return
	}
	writeJSON(w, http.StatusOK, benchmarkResponse{
		BrandModel: brandModel,
		Year:       year,
		Available:  b.Available,
		Average:    b.Average,
		Count:      b.Count,
		Min:        b.Min,
		Max:        b.Max,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server wraps the handler in an http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *utils.Logger
}

func NewServer(addr string, h *Handler, logger *utils.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("[api] Shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
