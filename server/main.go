package main

import (
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/altenk/llmledger/internal/ingest"
	"github.com/altenk/llmledger/internal/ledger"
	"github.com/altenk/llmledger/internal/pricing"
	"github.com/altenk/llmledger/server/internal/auth"
	"github.com/altenk/llmledger/server/internal/handlers"
	"github.com/altenk/llmledger/server/internal/middleware"
	"github.com/altenk/llmledger/server/internal/templates"
)

func main() {
	// .env is optional; real deployments set the environment directly
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		log.SetLevel(logrus.DebugLevel)
	}

	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "./llmledger.db")
	pricingPath := os.Getenv("PRICING_PATH")
	apiKey := os.Getenv("API_KEY")
	adminPassHash := os.Getenv("ADMIN_PASSWORD_HASH")

	if apiKey == "" {
		log.Warn("API_KEY not set; ingestion endpoints will reject all requests")
	}
	if adminPassHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH not set; report page login is disabled")
	}

	store, err := ledger.Open(dbPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to open ledger")
	}
	defer store.Close()

	var registry *pricing.Registry
	if pricingPath != "" {
		registry, err = pricing.Load(pricingPath)
		if err != nil {
			log.WithError(err).Fatal("Failed to load pricing registry")
		}
		log.WithField("version", registry.Version).Info("Pricing registry loaded")
	} else {
		log.Warn("PRICING_PATH not set; events will ledger with price_missing")
	}

	engine := ingest.New(store, registry)

	// Session store shares the ledger database file
	if err := createSessionsTable(store); err != nil {
		log.WithError(err).Fatal("Failed to create sessions table")
	}
	sessionMgr := scs.New()
	sessionMgr.Store = sqlite3store.New(store.DB())
	sessionMgr.Lifetime = 7 * 24 * time.Hour
	sessionMgr.Cookie.Secure = os.Getenv("SECURE_COOKIES") == "true"
	sessionMgr.Cookie.SameSite = http.SameSiteLaxMode

	tmpl, err := templates.Parse()
	if err != nil {
		log.WithError(err).Fatal("Failed to parse templates")
	}

	authMw := auth.NewMiddleware(apiKey, sessionMgr)
	h := handlers.New(store, engine, authMw, tmpl, log, adminPassHash)

	// Login attempts are throttled harder than ingestion
	loginLimiter := middleware.NewIPRateLimiter(rate.Every(time.Second), 5)
	apiLimiter := middleware.NewIPRateLimiter(rate.Limit(50), 100)

	mux := http.NewServeMux()

	// Report page (session-based)
	mux.Handle("/", authMw.RequireSession(http.HandlerFunc(h.ReportPage)))
	mux.Handle("/login", loginLimiter.LimitFunc(h.LoginPage))
	mux.Handle("/logout", authMw.RequireSession(http.HandlerFunc(h.Logout)))

	// Ingestion and report API (API key-based)
	mux.Handle("/api/events", apiLimiter.Limit(authMw.RequireAPIKey(http.HandlerFunc(h.APITrack))))
	mux.Handle("/api/events/batch", apiLimiter.Limit(authMw.RequireAPIKey(http.HandlerFunc(h.APITrackBatch))))
	mux.Handle("/api/events/latest", apiLimiter.Limit(authMw.RequireAPIKey(http.HandlerFunc(h.APILatest))))
	mux.Handle("/api/reports/daily", apiLimiter.Limit(authMw.RequireAPIKey(http.HandlerFunc(h.APIReportDaily))))
	mux.Handle("/api/reports/monthly", apiLimiter.Limit(authMw.RequireAPIKey(http.HandlerFunc(h.APIReportMonthly))))

	mux.HandleFunc("/healthz", h.Health)

	handler := middleware.SecurityHeaders(sessionMgr.LoadAndSave(mux))

	addr := ":" + port
	log.WithFields(logrus.Fields{
		"addr": addr,
		"db":   dbPath,
	}).Info("Starting llmledger-server")

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

// createSessionsTable applies the schema the scs sqlite3 store expects.
func createSessionsTable(store *ledger.Store) error {
	_, err := store.DB().Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expiry REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);
	`)
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
