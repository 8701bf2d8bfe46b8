package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"priceresolver/internal/app"
	"priceresolver/internal/config"
	"priceresolver/internal/provider"
	"priceresolver/internal/resolve"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	svc, err := app.BuildService(cfg, log)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/search", handleSearch(svc))
	mux.HandleFunc("/api/refresh", handleRefresh(svc))
	mux.HandleFunc("/api/refresh-all", handleRefreshAll(svc))
	mux.HandleFunc("/api/metadata", handleMetadata(svc))
	mux.HandleFunc("/api/providers", handleProviders(svc))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withCORS(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type errResponse struct {
	Error       string `json:"error"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

func handleSearch(svc *resolve.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "missing q query param", false)
			return
		}
		results, err := svc.Search(r.Context(), q)
		if err != nil {
			status, rateLimited := statusFor(err)
			writeError(w, status, "search failed", rateLimited)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

type refreshRequest struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Force  bool   `json:"force"`
}

func handleRefresh(svc *resolve.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body refreshRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil || body.ID == "" {
			writeError(w, http.StatusBadRequest, "invalid JSON body", false)
			return
		}
		id := provider.CoinIdentity{ID: body.ID, Symbol: body.Symbol}
		out, err := svc.RefreshOne(r.Context(), id, body.Force)
		if err != nil {
			status, rateLimited := statusFor(err)
			msg := "refresh failed"
			if status == http.StatusNotFound {
				msg = "coin not found"
			} else if rateLimited {
				msg = "Rate limited. Please wait and try again."
			}
			writeError(w, status, msg, rateLimited)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type refreshAllRequest struct {
	Coins       []refreshRequest `json:"coins"`
	DeadlineSec int              `json:"deadline_sec"`
}

func handleRefreshAll(svc *resolve.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body refreshAllRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Coins) == 0 {
			writeError(w, http.StatusBadRequest, "coins cannot be empty", false)
			return
		}
		if len(body.Coins) > 1000 {
			writeError(w, http.StatusBadRequest, "too many coins (max 1000)", false)
			return
		}
		ids := make([]provider.CoinIdentity, 0, len(body.Coins))
		for _, c := range body.Coins {
			ids = append(ids, provider.CoinIdentity{ID: c.ID, Symbol: c.Symbol})
		}
		deadline := time.Duration(body.DeadlineSec) * time.Second
		writeJSON(w, http.StatusOK, svc.RefreshAll(r.Context(), ids, deadline))
	}
}

func handleMetadata(svc *resolve.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := provider.CoinIdentity{
			ID:     strings.TrimSpace(r.URL.Query().Get("id")),
			Symbol: strings.TrimSpace(r.URL.Query().Get("symbol")),
		}
		if id.ID == "" {
			writeError(w, http.StatusBadRequest, "missing id query param", false)
			return
		}
		meta, err := svc.Metadata(r.Context(), id)
		if err != nil {
			status, rateLimited := statusFor(err)
			msg := "metadata lookup failed"
			if status == http.StatusNotFound {
				msg = "coin not found"
			}
			writeError(w, status, msg, rateLimited)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func handleProviders(svc *resolve.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, svc.ProviderStates())
	}
}

// statusFor maps a resolution error onto the HTTP convention the web
// layer renders: 429 when every provider was throttled or cooling down,
// 404 when the coin is unknown everywhere, 502 otherwise.
func statusFor(err error) (status int, rateLimited bool) {
	var ex *resolve.ExhaustedError
	if errors.As(err, &ex) {
		switch {
		case ex.RateLimited():
			return http.StatusTooManyRequests, true
		case ex.NotFound():
			return http.StatusNotFound, false
		}
	}
	if provider.KindOf(err) == provider.KindRateLimited {
		return http.StatusTooManyRequests, true
	}
	return http.StatusBadGateway, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, rateLimited bool) {
	writeJSON(w, status, errResponse{Error: msg, RateLimited: rateLimited})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Basic CORS for browser usage; adjust as needed.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses the response when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
