package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/service/feed"
	"github.com/sirupsen/logrus"
)

var (
	errAPIKeyMissing  = errors.New("api key is required")
	errAPIKeyInvalid  = errors.New("invalid api key")
	errAPIKeyInactive = errors.New("api key is inactive")
	errAPIKeyExpired  = errors.New("api key is expired")
)

const maxTickRange = 24 * time.Hour

type Pipeline interface {
	Stats() entity.PipelineStats
	SystemStats(ctx context.Context) (entity.SystemStats, error)
	GetHistoricalTicks(ctx context.Context, symbol string, from, to int64) ([]entity.TickRecord, error)
}

type Subscriptions interface {
	Subscribe(symbol string, kind entity.SubscriptionKind, params entity.SubscriptionParams) (string, error)
	Unsubscribe(id string) error
	UnsubscribeSymbol(symbol string) error
	All() []entity.Subscription
	Stats() entity.SubscriptionStats
}

type Broadcaster interface {
	Stats() entity.BroadcasterStats
	BroadcastSystemMessage(message, level string) int
	BroadcastMarketStatus(status string) int
}

type ClientRegistry interface {
	Stats() entity.ServerStats
	Clients() []entity.ClientInfo
}

type FeedStatus interface {
	Info() entity.FeedInfo
}

type SubscribeRequest struct {
	Symbol   string `json:"symbol" validate:"required"`
	Kind     string `json:"kind" validate:"required,oneof=quote book trades aggregatedBook vap"`
	Snapshot bool   `json:"snapshot"`
	Quantity int    `json:"quantity" validate:"min=0"`
	TradeID  string `json:"trade_id"`
	Order    string `json:"order" validate:"omitempty,oneof=ASC DESC asc desc"`
	Period   int    `json:"period" validate:"min=0"`
}

type SubscribeResponse struct {
	ID      string `json:"id"`
	Symbol  string `json:"symbol"`
	Kind    string `json:"kind"`
	Command string `json:"command"`
}

type SystemMessageRequest struct {
	Message string `json:"message" validate:"required"`
	Level   string `json:"level" validate:"omitempty,oneof=info warning error"`
}

type MarketStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open closed pre-open after-hours"`
}

type BroadcastResponse struct {
	Recipients int `json:"recipients"`
}

type StatsResponse struct {
	Pipeline      entity.PipelineStats     `json:"pipeline"`
	System        *entity.SystemStats      `json:"system,omitempty"`
	Broadcaster   entity.BroadcasterStats  `json:"broadcaster"`
	Server        entity.ServerStats       `json:"server"`
	Clients       []entity.ClientInfo      `json:"clients"`
	Subscriptions entity.SubscriptionStats `json:"subscriptions"`
	Feed          entity.FeedInfo          `json:"feed"`
	Errors        feed.ErrorSummary        `json:"errors"`
}

type TicksResponse struct {
	Symbol string              `json:"symbol"`
	From   int64               `json:"from"`
	To     int64               `json:"to"`
	Count  int                 `json:"count"`
	Ticks  []entity.TickRecord `json:"ticks"`
}

type Dependencies struct {
	APIKeys       []config.APIKeyConfig
	Pipeline      Pipeline
	Subscriptions Subscriptions
	Broadcaster   Broadcaster
	Clients       ClientRegistry
	Feed          FeedStatus
}

// Handler serves the operator API of the gateway.
type Handler struct {
	deps     Dependencies
	validate *validator.Validate
	now      func() time.Time
}

func NewMarketGatewayHTTPHandler(deps Dependencies) *Handler {
	return &Handler{
		deps:     deps,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/stats", h.withAPIKey(h.Stats))
	mux.HandleFunc("/api/v1/subscriptions", h.withAPIKey(h.Subscriptions))
	mux.HandleFunc("/api/v1/ticks", h.withAPIKey(h.Ticks))
	mux.HandleFunc("/api/v1/system-message", h.withAPIKey(h.SystemMessage))
	mux.HandleFunc("/api/v1/market-status", h.withAPIKey(h.MarketStatus))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	resp := StatsResponse{
		Pipeline:      h.deps.Pipeline.Stats(),
		Broadcaster:   h.deps.Broadcaster.Stats(),
		Server:        h.deps.Clients.Stats(),
		Clients:       h.deps.Clients.Clients(),
		Subscriptions: h.deps.Subscriptions.Stats(),
		Feed:          h.deps.Feed.Info(),
		Errors:        feed.Summary(),
	}

	system, err := h.deps.Pipeline.SystemStats(r.Context())
	if err != nil {
		logrus.WithField("error", err).Warn("system stats unavailable")
	} else {
		resp.System = &system
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": h.deps.Subscriptions.All()})
	case http.MethodPost:
		h.subscribe(w, r)
	case http.MethodDelete:
		h.unsubscribe(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	kind := entity.SubscriptionKind(req.Kind)
	id, err := h.deps.Subscriptions.Subscribe(req.Symbol, kind, entity.SubscriptionParams{
		Snapshot: req.Snapshot,
		Quantity: req.Quantity,
		TradeID:  req.TradeID,
		Order:    strings.ToUpper(req.Order),
		Period:   req.Period,
	})
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrNotAuthenticated):
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "feed not ready"})
		case errors.Is(err, feed.ErrEmptySymbol), errors.Is(err, feed.ErrUnknownKind):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		default:
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		}
		return
	}

	resp := SubscribeResponse{ID: id, Symbol: req.Symbol, Kind: req.Kind}
	for _, sub := range h.deps.Subscriptions.All() {
		if sub.ID == id {
			resp.Command = sub.Command
			break
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	id := strings.TrimSpace(query.Get("id"))
	symbol := strings.ToUpper(strings.TrimSpace(query.Get("symbol")))

	var err error
	switch {
	case id != "":
		err = h.deps.Subscriptions.Unsubscribe(id)
	case symbol != "":
		err = h.deps.Subscriptions.UnsubscribeSymbol(symbol)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id or symbol is required"})
		return
	}
	if err != nil {
		if errors.Is(err, feed.ErrNotAuthenticated) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "feed not ready"})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Ticks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	query := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(query.Get("symbol")))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol is required"})
		return
	}

	to := h.now().UnixMilli()
	from := to - maxTickRange.Milliseconds()
	var err error
	if raw := query.Get("from"); raw != "" {
		if from, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid from"})
			return
		}
	}
	if raw := query.Get("to"); raw != "" {
		if to, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid to"})
			return
		}
	}
	if from > to {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "from must not be after to"})
		return
	}

	ticks, err := h.deps.Pipeline.GetHistoricalTicks(r.Context(), symbol, from, to)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"symbol": symbol,
			"error":  err,
		}).Error("historical ticks query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	if ticks == nil {
		ticks = []entity.TickRecord{}
	}

	writeJSON(w, http.StatusOK, TicksResponse{
		Symbol: symbol,
		From:   from,
		To:     to,
		Count:  len(ticks),
		Ticks:  ticks,
	})
}

func (h *Handler) SystemMessage(w http.ResponseWriter, r *http.Request) {
	var req SystemMessageRequest
	if !h.decodePost(w, r, &req) {
		return
	}

	recipients := h.deps.Broadcaster.BroadcastSystemMessage(req.Message, req.Level)
	writeJSON(w, http.StatusAccepted, BroadcastResponse{Recipients: recipients})
}

func (h *Handler) MarketStatus(w http.ResponseWriter, r *http.Request) {
	var req MarketStatusRequest
	if !h.decodePost(w, r, &req) {
		return
	}

	recipients := h.deps.Broadcaster.BroadcastMarketStatus(req.Status)
	writeJSON(w, http.StatusAccepted, BroadcastResponse{Recipients: recipients})
}

func (h *Handler) decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return false
	}

	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return false
	}

	return true
}

func (h *Handler) withAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validateAPIKey(h.deps.APIKeys, r.Header.Get("X-API-Key"), h.now()); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func validateAPIKey(keys []config.APIKeyConfig, rawAPIKey string, now time.Time) error {
	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return errAPIKeyMissing
	}

	if len(keys) == 0 {
		return errAPIKeyInvalid
	}

	now = now.UTC()
	for _, candidate := range keys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return errAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return errAPIKeyInvalid
		}
		if !hasExpiry {
			return nil
		}

		if !now.Before(expiredAt) {
			return errAPIKeyExpired
		}

		return nil
	}

	return errAPIKeyInvalid
}

// parseExpiry accepts a time, an RFC3339 string or a date. A date key stays
// valid through the end of that day.
func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
