package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/altenk/llmledger/internal/ingest"
	"github.com/altenk/llmledger/internal/ledger"
	"github.com/altenk/llmledger/internal/model"
	"github.com/altenk/llmledger/internal/report"
	"github.com/altenk/llmledger/server/internal/auth"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store         *ledger.Store
	engine        *ingest.Engine
	authMw        *auth.Middleware
	templates     *template.Template
	log           *logrus.Logger
	adminPassHash string
}

// New creates a new Handler
func New(store *ledger.Store, engine *ingest.Engine, authMw *auth.Middleware, templates *template.Template, log *logrus.Logger, adminPassHash string) *Handler {
	return &Handler{
		store:         store,
		engine:        engine,
		authMw:        authMw,
		templates:     templates,
		log:           log,
		adminPassHash: adminPassHash,
	}
}

// APITrack ingests a single usage event and returns its receipt
func (h *Handler) APITrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev model.RawUsageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := h.engine.Track(&ev)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"provider": ev.Provider,
			"model":    ev.Model,
		}).Warn("event rejected")
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.log.WithFields(logrus.Fields{
		"provider": ev.Provider,
		"model":    ev.Model,
		"cost_usd": receipt.Transaction.CostUSD,
		"status":   receipt.Status,
	}).Info("event ledgered")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// BatchRequest represents the incoming batch ingestion data
type BatchRequest struct {
	ClientID   string                `json:"client_id"`
	ClientName string                `json:"client_name"`
	Events     []model.RawUsageEvent `json:"events"`
}

// BatchResponse represents the batch ingestion response
type BatchResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Inserted int64  `json:"inserted,omitempty"`
	Rejected int64  `json:"rejected,omitempty"`
}

// APITrackBatch ingests a batch of usage events
func (h *Handler) APITrackBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Events) == 0 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(BatchResponse{
			Success: true,
			Message: "No events to ingest",
		})
		return
	}

	var inserted, rejected int64
	for i := range req.Events {
		if _, err := h.engine.Track(&req.Events[i]); err != nil {
			rejected++
			h.log.WithError(err).WithField("client_id", req.ClientID).Warn("batch event rejected")
			continue
		}
		inserted++
	}

	h.log.WithFields(logrus.Fields{
		"client_id": req.ClientID,
		"inserted":  inserted,
		"rejected":  rejected,
	}).Info("batch ingested")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BatchResponse{
		Success:  true,
		Message:  "Batch ingested",
		Inserted: inserted,
		Rejected: rejected,
	})
}

// LatestResponse reports the newest event timestamp in the ledger
type LatestResponse struct {
	LatestTimestamp *time.Time `json:"latest_timestamp,omitempty"`
}

// APILatest returns the push high-water mark for ingestion clients
func (h *Handler) APILatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.LatestTimestamp()
	if err != nil {
		h.jsonError(w, "Failed to read ledger", http.StatusInternalServerError)
		return
	}

	resp := LatestResponse{}
	if !latest.IsZero() {
		resp.LatestTimestamp = &latest
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// APIReportDaily returns the daily cost report as JSON
func (h *Handler) APIReportDaily(w http.ResponseWriter, r *http.Request) {
	rep, err := report.Daily(h.store, r.URL.Query().Get("date"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rep)
}

// APIReportMonthly returns the monthly cost report as JSON
func (h *Handler) APIReportMonthly(w http.ResponseWriter, r *http.Request) {
	rep, err := report.Monthly(h.store, r.URL.Query().Get("month"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rep)
}

// LoginPage renders the login form
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.login(w, r)
		return
	}
	h.templates.ExecuteTemplate(w, "login.html", nil)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.templates.ExecuteTemplate(w, "login.html", map[string]any{"Error": "Invalid form data"})
		return
	}

	password := r.FormValue("password")
	if h.adminPassHash == "" || !auth.CheckPassword(password, h.adminPassHash) {
		h.log.WithField("remote", r.RemoteAddr).Warn("failed login")
		h.templates.ExecuteTemplate(w, "login.html", map[string]any{"Error": "Invalid password"})
		return
	}

	h.authMw.MarkAuthenticated(r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout destroys the session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMw.ClearSession(r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ReportPage renders the HTML cost report for a day plus its month
func (h *Handler) ReportPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			http.Error(w, "Invalid date format (use YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
	}
	daily, err := report.Daily(h.store, date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	monthly, err := report.Monthly(h.store, daily.Date[:7])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.templates.ExecuteTemplate(w, "report.html", map[string]any{
		"Date":          daily.Date,
		"Breakdown":     daily.Breakdown,
		"TotalCostUSD":  daily.TotalCostUSD,
		"Month":         monthly.Month,
		"Days":          monthly.Days,
		"MonthTotalUSD": monthly.TotalCostUSD,
	})
}

// Health handles the health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DB().Ping(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
