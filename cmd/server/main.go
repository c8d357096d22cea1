package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tablesim.dev/internal/config"
	"tablesim.dev/internal/indexdb"
	"tablesim.dev/internal/journal"
	"tablesim.dev/internal/tabletop"
	"tablesim.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "./configs/server.yaml", "config file path")
		disableDB  = flag.Bool("disable_db", false, "disable the session index")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *disableDB {
		cfg.DisableDB = true
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var index *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		index, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			logger.Fatal("open session index", zap.Error(err))
		}
		defer index.Close()
	}

	var jw *journal.Writer
	if cfg.Journal {
		jw = journal.NewWriter(filepath.Join(cfg.DataDir, "journal"), "lobbies")
		defer jw.Close()
	}

	mgr := tabletop.NewManager(logger, index, jw)
	wss := ws.NewServer(mgr, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/"+tabletop.RandomLobbyName(), http.StatusFound)
	})
	r.Get("/dashboard", dashboardHandler(mgr, index))
	r.Get("/{lobby}/ws", func(w http.ResponseWriter, req *http.Request) {
		wss.Handler(chi.URLParam(req, "lobby"))(w, req)
	})
	r.Get("/{lobby}/assets/*", assetHandler(mgr))
	r.Get("/{lobby}/page/*", pageHandler(mgr))
	if cfg.StaticDir != "" {
		fs := http.FileServer(http.Dir(cfg.StaticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fs))
		r.Get("/{lobby}", func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, filepath.Join(cfg.StaticDir, "index.html"))
		})
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	mgr.Close()
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func dashboardHandler(mgr *tabletop.Manager, index *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<h1>Lobbies</h1><table><tr><th>Name</th><th>Users</th><th>Pawns</th><th>Uptime</th></tr>")
		for _, st := range mgr.Snapshot() {
			fmt.Fprintf(w, "<tr><td>%s</td><td>%d</td><td>%d</td><td>%s</td></tr>",
				st.Name, st.Users, st.Pawns, st.Uptime.Round(time.Second))
		}
		fmt.Fprint(w, "</table>")

		sessions, err := index.RecentSessions(20)
		if err != nil || len(sessions) == 0 {
			return
		}
		fmt.Fprint(w, "<h2>Recent sessions</h2><table><tr><th>Name</th><th>Opened</th><th>Closed</th><th>Peak</th><th>Joins</th></tr>")
		for _, s := range sessions {
			fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td></tr>",
				s.Name, s.OpenedAt, s.ClosedAt, s.PeakUsers, s.Joins)
		}
		fmt.Fprint(w, "</table>")
	}
}

// assetHandler serves registered game assets by path. No-cache: assets can be
// re-registered under the same path mid-session.
func assetHandler(mgr *tabletop.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		lobby, ok := mgr.Lookup(chi.URLParam(req, "lobby"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		asset, ok := lobby.Asset(chi.URLParam(req, "*"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", asset.Mime)
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(asset.Data)
	}
}

// pageHandler renders script-defined sub-pages.
func pageHandler(mgr *tabletop.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		lobby, ok := mgr.Lookup(chi.URLParam(req, "lobby"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		body, ok := lobby.Page(chi.URLParam(req, "*"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}
