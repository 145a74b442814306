package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gentlecorp/shopping-cart/internal/core/auth"
	"github.com/gentlecorp/shopping-cart/internal/core/domain"
	"github.com/gentlecorp/shopping-cart/internal/core/service"
	"github.com/gentlecorp/shopping-cart/internal/observability"
	"github.com/gentlecorp/shopping-cart/internal/port"
)

const (
	cartsPath   = "/carts"
	halJSON     = "application/hal+json"
	maxBodySize = 1 << 20
)

type HTTPDeps struct {
	Reader    *service.CartReadService
	Writer    *service.CartWriteService
	Identity  port.IdentityProvider
	Inspector *auth.Inspector
	Health    *HealthReporter
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	AdminRole string
	// UserRoles may change cart contents in addition to AdminRole.
	UserRoles []string
}

type HTTPHandler struct {
	reader    *service.CartReadService
	writer    *service.CartWriteService
	identity  port.IdentityProvider
	inspector *auth.Inspector
	health    *HealthReporter
	metrics   *observability.Metrics
	logger    *zap.Logger
	adminRole string
	itemRoles []string
}

type createCartRequest struct {
	CustomerID string `json:"customerId"`
}

type itemRequest struct {
	InventoryID string `json:"inventoryId"`
	Quantity    int    `json:"quantity"`
}

type loginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

func NewHTTPHandler(deps HTTPDeps) *HTTPHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	itemRoles := append([]string{deps.AdminRole}, deps.UserRoles...)
	return &HTTPHandler{
		reader:    deps.Reader,
		writer:    deps.Writer,
		identity:  deps.Identity,
		inspector: deps.Inspector,
		health:    deps.Health,
		metrics:   deps.Metrics,
		logger:    logger,
		adminRole: deps.AdminRole,
		itemRoles: itemRoles,
	}
}

// Routes builds the chi router with request ids, panic recovery and request
// logging.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(h.logger, h.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)

	r.Route(cartsPath, func(r chi.Router) {
		r.Get("/", h.Find)
		r.With(h.requireRoles(h.adminRole)).Post("/", h.Create)
		r.Get("/{id}", h.FindByID)
		r.With(h.requireRoles(h.itemRoles...)).Put("/{id}/add", h.AddItem)
		r.With(h.requireRoles(h.itemRoles...)).Put("/{id}/remove", h.RemoveItem)
		r.With(h.requireRoles(h.adminRole)).Delete("/{id}", h.Delete)
	})

	return r
}

func (h *HTTPHandler) FindByID(w http.ResponseWriter, r *http.Request) {
	ifNoneMatch := strings.TrimSpace(r.Header.Get("If-None-Match"))
	if ifNoneMatch == "" {
		h.fail(w, r, "get", fmt.Errorf(`header "If-None-Match" is missing: %w`, domain.ErrPreconditionRequired))
		return
	}

	cart, err := h.reader.FindByID(r.Context(), chi.URLParam(r, "id"), r.Header.Get("Authorization"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}

	etag := domain.ETag(cart.Version)
	if domain.MatchesETag(ifNoneMatch, cart.Version) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	writeHAL(w, http.StatusOK, toCartModel(cart))
}

func (h *HTTPHandler) Find(w http.ResponseWriter, r *http.Request) {
	criteria := domain.SearchCriteria{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			criteria[key] = values[0]
		}
	}

	carts, err := h.reader.Find(r.Context(), criteria)
	if err != nil {
		h.fail(w, r, "find", err)
		return
	}

	summaries := make([]summaryModel, 0, len(carts))
	for _, c := range carts {
		summaries = append(summaries, toSummaryModel(c))
	}
	writeHAL(w, http.StatusOK, cartsModel{Embedded: embeddedCarts{Carts: summaries}})
}

func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCartRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		h.fail(w, r, "create", fmt.Errorf("customerId is required: %w", domain.ErrInvalidArgument))
		return
	}

	ctx := r.Context()
	if _, err := h.reader.ResolveCustomer(ctx, req.CustomerID, r.Header.Get("Authorization")); err != nil {
		h.fail(w, r, "create", err)
		return
	}

	id, err := h.writer.Create(ctx, service.CreateRequest{CustomerID: req.CustomerID})
	if err != nil {
		h.fail(w, r, "create", err)
		return
	}

	w.Header().Set("Location", cartsPath+"/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	version, ok := h.ifMatch(w, r, "add")
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}

	cartID := chi.URLParam(r, "id")
	res, err := h.writer.AddItem(r.Context(), service.AddItemRequest{
		CartID:      cartID,
		InventoryID: req.InventoryID,
		Quantity:    req.Quantity,
		CartVersion: version,
		Token:       r.Header.Get("Authorization"),
	})
	if err != nil {
		h.fail(w, r, "add", err)
		return
	}

	w.Header().Set("ETag", domain.ETag(res.CartVersion))
	w.Header().Set("Location", cartsPath+"/"+cartID)
	w.WriteHeader(http.StatusCreated)
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	version, ok := h.ifMatch(w, r, "remove")
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.writer.RemoveItem(r.Context(), service.RemoveItemRequest{
		CartID:      chi.URLParam(r, "id"),
		InventoryID: req.InventoryID,
		Quantity:    req.Quantity,
		CartVersion: version,
		Token:       r.Header.Get("Authorization"),
	})
	if err != nil {
		h.fail(w, r, "remove", err)
		return
	}

	w.Header().Set("ETag", domain.ETag(res.CartVersion))
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	version, ok := h.ifMatch(w, r, "delete")
	if !ok {
		return
	}

	_, err := h.writer.Delete(r.Context(), service.DeleteRequest{
		ID:              chi.URLParam(r, "id"),
		Token:           r.Header.Get("Authorization"),
		ExpectedVersion: &version,
	})
	if err != nil {
		h.fail(w, r, "delete", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Login accepts JSON or form encoded credentials.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.credentials(w, r)
	if !ok {
		return
	}

	tokens, ok := h.identity.Login(r.Context(), req.Username, req.Password)
	if !ok {
		h.fail(w, r, "login", fmt.Errorf("invalid username or password: %w", domain.ErrUnauthorized))
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(tokens))
}

func (h *HTTPHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := h.credentials(w, r)
	if !ok {
		return
	}

	tokens, ok := h.identity.Refresh(r.Context(), req.RefreshToken)
	if !ok {
		h.fail(w, r, "refresh", fmt.Errorf("invalid refresh token: %w", domain.ErrUnauthorized))
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(tokens))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && !h.health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireRoles rejects callers without a usable token with 401 and callers
// holding none of roles with 403.
func (h *HTTPHandler) requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := h.inspector.Inspect(r.Header.Get("Authorization"))
			if !identity.HasUsername() && len(identity.Roles()) == 0 {
				h.fail(w, r, "auth", fmt.Errorf("missing or unusable bearer token: %w", domain.ErrUnauthorized))
				return
			}
			if !identity.HasAnyRole(roles...) {
				h.fail(w, r, "auth", fmt.Errorf("insufficient role: %w", domain.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ifMatch reads the cart version precondition. A missing header is 428, a
// malformed one 422.
func (h *HTTPHandler) ifMatch(w http.ResponseWriter, r *http.Request, op string) (int, bool) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		h.fail(w, r, op, fmt.Errorf(`header "If-Match" is missing: %w`, domain.ErrPreconditionRequired))
		return 0, false
	}
	version, err := domain.ParseETag(raw)
	if err != nil {
		h.fail(w, r, op, err)
		return 0, false
	}
	return version, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) credentials(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
			return req, false
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		req.RefreshToken = r.PostForm.Get("refresh_token")
		return req, true
	}
	return req, h.decode(w, r, &req)
}

// fail maps domain errors to HTTP statuses.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusOf(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("operation", op),
			zap.Error(err),
		)
		message = "internal server error"
	}
	if status == http.StatusConflict && h.metrics != nil {
		h.metrics.VersionConflicts.WithLabelValues(op).Inc()
	}

	writeError(w, r, status, code, message)
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusUnprocessableEntity, "invalid_argument"
	case errors.Is(err, domain.ErrInvalidCriteria):
		return http.StatusBadRequest, "invalid_criteria"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, domain.ErrPreconditionRequired):
		return http.StatusPreconditionRequired, "precondition_required"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func toTokenResponse(tokens domain.TokenSet) tokenResponse {
	res := tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
	}
	if !tokens.Expiry.IsZero() {
		res.ExpiresIn = int64(time.Until(tokens.Expiry).Seconds())
	}
	return res
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	payload := map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		payload["request_id"] = id
	}
	writeJSON(w, status, payload)
}

func writeHAL(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", halJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
