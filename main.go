package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"danmuhub/api"
	"danmuhub/config"
	"danmuhub/handlers"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/aimatch"
	"danmuhub/services/danmaku"
	"danmuhub/services/library"
	"danmuhub/services/metasource"
	"danmuhub/services/ratelimit"
	"danmuhub/services/recognition"
	"danmuhub/services/scraper"
	"danmuhub/services/search"
	"danmuhub/services/task"
	"danmuhub/services/webhook"
	"danmuhub/utils/auth"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 danmuhub starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("DANMUHUB_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// First start: mint the admin PIN. Only the hash is persisted, so this
	// is the one time the PIN is visible.
	if settings.Server.PINHash == "" {
		pin, err := auth.GeneratePIN()
		if err != nil {
			log.Fatalf("failed to generate PIN: %v", err)
		}
		hash, err := auth.HashPIN(pin)
		if err != nil {
			log.Fatalf("failed to hash PIN: %v", err)
		}
		settings.Server.PINHash = hash
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated PIN: %v", err)
		}
		fmt.Println("============================================")
		fmt.Printf("🔑 Admin PIN: %s\n", pin)
		fmt.Println("   Write it down; it will not be shown again.")
		fmt.Println("============================================")
	}

	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	httpc := scraper.NewHTTPClient(cfgManager)
	scrapers := scraper.NewRegistry(cfgManager)

	metas := metasource.NewRegistry(cfgManager)
	metas.Register(metasource.NewTMDB(cfgManager, httpc))

	var limiter ratelimit.Limiter = ratelimit.New(cfgManager, db.RateLimit)
	if !settings.RateLimit.Enabled {
		limiter = ratelimit.Disabled{}
	}

	store := danmaku.NewStore(cfgManager, afero.NewOsFs(), db.Anime)
	lib := library.New(cfgManager, db, httpc)
	recog := recognition.NewManager(cfgManager)
	ai := aimatch.New(cfgManager, httpc, db.Cache)
	searcher := search.New(cfgManager, scrapers, metas, limiter, db.Cache, ai, db)

	tasks := task.NewManager(db.Tasks, limiter)
	deps := task.Deps{
		Cfg:         cfgManager,
		DB:          db,
		Library:     lib,
		Store:       store,
		Scrapers:    scrapers,
		Limiter:     limiter,
		Recognition: recog,
		Seasons:     searcher,
	}
	dispatcher := webhook.NewDispatcher(cfgManager, db, searcher, metas, ai, tasks, deps, recog)

	tasks.Start()
	defer tasks.Stop()

	// Replay whatever a previous process left behind.
	rebuild := func(record models.TaskRecord) (*task.Spec, error) {
		switch record.TaskType {
		case task.TypeGenericImport:
			var p task.ImportParams
			if err := json.Unmarshal([]byte(record.Parameters), &p); err != nil {
				return nil, err
			}
			return &task.Spec{
				Title:      record.Title,
				Queue:      models.QueueDownload,
				Body:       task.GenericImport(deps, p),
				UniqueKey:  task.ImportUniqueKey(p),
				TaskType:   task.TypeGenericImport,
				Parameters: p,
				Provider:   p.Provider,
			}, nil
		case task.TypeWebhookDispatch:
			var p webhook.DispatchParams
			if err := json.Unmarshal([]byte(record.Parameters), &p); err != nil {
				return nil, err
			}
			return dispatcher.TaskSpec(p)
		default:
			return nil, fmt.Errorf("task type %q is not replayable", record.TaskType)
		}
	}
	if err := tasks.Recover(rebuild); err != nil {
		log.Printf("task recovery: %v", err)
	}

	// Hourly sweep of expired cache rows.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := db.Cache.Sweep(); err != nil {
					log.Printf("[cache] sweep: %v", err)
				} else if n > 0 {
					log.Printf("[cache] swept %d expired entries", n)
				}
			}
		}
	}()

	sessions := auth.NewSessions()
	authHandler := handlers.NewAuthHandler(cfgManager, sessions, db.Tokens)
	compatHandler := &handlers.CompatHandler{
		Cfg: cfgManager, DB: db, Store: store, Library: lib,
		Searcher: searcher, Tasks: tasks, Deps: deps, Limiter: limiter,
	}
	libraryHandler := &handlers.LibraryHandler{Cfg: cfgManager, DB: db, Searcher: searcher, Tasks: tasks, Deps: deps}
	taskHandler := &handlers.TaskHandler{DB: db, Tasks: tasks}
	settingsHandler := &handlers.SettingsHandler{Cfg: cfgManager, Limiter: limiter}
	tokenHandler := &handlers.TokenHandler{Tokens: db.Tokens}
	webhookHandler := &handlers.WebhookHandler{Dispatcher: dispatcher}
	backupHandler := &handlers.BackupHandler{DB: db}

	r := mux.NewRouter()
	api.Register(r, authHandler, compatHandler, libraryHandler, taskHandler,
		settingsHandler, tokenHandler, webhookHandler, backupHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("danmuhub listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
