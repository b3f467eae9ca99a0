package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tilemap.ai/internal/config"
	"tilemap.ai/internal/document"
	"tilemap.ai/internal/logger"
	persistlog "tilemap.ai/internal/persistence/log"
	"tilemap.ai/internal/persistence/snapshot"
	"tilemap.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (optional)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the read-model index")
	)
	flag.Parse()

	cfg := config.Default()
	if p := strings.TrimSpace(*configPath); p != "" {
		loaded, err := config.Load(p)
		if err != nil {
			logrus.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *disableDB {
		cfg.Index.Enabled = false
	}

	base := logger.New(cfg.Log)
	log := logger.Component(base, "server")

	level, err := snapshot.ParseLevel(cfg.Compression)
	if err != nil {
		log.Fatalf("compression: %v", err)
	}

	idx, err := openRuntimeIndex(cfg, logger.Component(base, "index"))
	if err != nil {
		log.Fatalf("open index backend: %v", err)
	}
	defer idx.Close()

	opts := document.Options{
		UndoDepth:   cfg.UndoDepth,
		MaxEdit:     cfg.MaxEdit,
		ArchiveKeep: cfg.ArchiveKeep,
		Snapshot:    snapshot.Options{Level: level},
		Index:       idx.Index(),
		Logger:      logger.Component(base, "document"),
	}
	if cfg.EditLog.Enabled {
		opts.NewEditLogger = func(dir string) document.EditLogger { return persistlog.NewEditLogger(dir) }
		opts.ReadEdits = persistlog.ReadEdits
	}
	store, err := document.NewStore(cfg.MapsDir(), opts)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("close store")
		}
	}()

	wsSrv, err := ws.NewServer(store, ws.Options{
		Logger:           base,
		ViewCacheMaxCost: cfg.ViewCache.MaxCost,
		ValidateMessages: true,
	})
	if err != nil {
		log.Fatalf("ws server: %v", err)
	}
	defer wsSrv.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if every := cfg.AutosaveInterval(); every > 0 {
		go autosave(ctx, store, every, log)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(store, wsSrv, idx))
	wsSrv.Routes(mux)

	if envBool("TILEMAP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, store, wsSrv, idx)
	} else {
		log.Info("admin endpoints disabled (TILEMAP_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("TILEMAP_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithFields(logrus.Fields{"addr": cfg.ListenAddr, "data": cfg.DataDir}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("ListenAndServe: %v", err)
	}
}

// autosave saves dirty maps every interval until ctx is done.
func autosave(ctx context.Context, store *document.Store, every time.Duration, log logrus.FieldLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := store.SaveAll(); err != nil {
				log.WithError(err).Warn("autosave failed")
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
