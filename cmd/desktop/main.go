// Desktop companion process. Owns the local store, runs login
// reconciliation on boot, keeps the sync scheduler and the preference
// autosave engine alive, and exposes a small local HTTP/WebSocket
// surface for the shell UI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/autosave"
	"github.com/kerrin-hs/gapday/core/internal/config"
	"github.com/kerrin-hs/gapday/core/internal/crypto"
	"github.com/kerrin-hs/gapday/core/internal/db"
	"github.com/kerrin-hs/gapday/core/internal/export"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/netstate"
	"github.com/kerrin-hs/gapday/core/internal/remote"
	gsync "github.com/kerrin-hs/gapday/core/internal/sync"
	"github.com/kerrin-hs/gapday/core/internal/sync/queue"
	"github.com/kerrin-hs/gapday/core/internal/sync/scheduler"
	"github.com/kerrin-hs/gapday/core/internal/telemetry"
)

// backupHandler writes a password-protected archive of the local
// store and announces it on the status bridge.
func backupHandler(backups *export.Service, hub *WSHub, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			OutputPath string `json:"output_path"`
			Password   string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		res, err := backups.Backup(&export.Config{OutputPath: req.OutputPath, Password: req.Password})
		if err != nil {
			log.Error("backup failed", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hub.Broadcast(EventBackupDone, map[string]interface{}{
			"file_path": res.FilePath,
			"tasks":     res.TaskCount,
			"gaps":      res.GapCount,
			"checksum":  res.Checksum,
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func restoreHandler(backups *export.Service, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ArchivePath string `json:"archive_path"`
			Password    string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		res, err := backups.Restore(req.ArchivePath, req.Password)
		if err != nil {
			log.Error("restore failed", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func main() {
	logging.Init(os.Stderr, logging.LevelInfo)
	log := logging.Get().With("desktop")

	cfgPath := os.Getenv("GAPDAY_CONFIG")
	if cfgPath == "" {
		cfgPath = "gapday.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("failed to load config", err)
		os.Exit(1)
	}

	if dir := os.Getenv("GAPDAY_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Error("failed to open database", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database).Up(); err != nil {
		log.Error("failed to run migrations", err)
		os.Exit(1)
	}

	machineID := os.Getenv("GAPDAY_MACHINE_ID")
	if machineID == "" {
		machineID, _ = os.Hostname()
	}
	tokens := crypto.NewTokenStore(cfg.DataDir, machineID)
	userID, token, err := tokens.Load()
	if err != nil {
		log.Error("no usable session, run login first", err)
		os.Exit(1)
	}

	store := db.NewStore(database, userID)
	client := remote.NewHTTPClient(cfg.Remote.BaseURL, token, cfg.Remote.RequestTimeout)
	net := netstate.NewMonitor(true)
	hub := NewWSHub()

	// One-shot merge before anything else pushes. Session start never
	// blocks on it: failures keep local data and are reported.
	hub.Broadcast(EventSyncStarted, map[string]interface{}{"userId": userID})
	summary := gsync.NewReconciler(store, client).Run(context.Background())
	if summary.ConflictsResolved > 0 {
		hub.Broadcast(EventSyncConflict, map[string]interface{}{"resolved": summary.ConflictsResolved})
	}
	if summary.Success {
		hub.Broadcast(EventSyncCompleted, map[string]interface{}{
			"tasksSynced":       summary.TasksSynced,
			"gapsSynced":        summary.GapsSynced,
			"conflictsResolved": summary.ConflictsResolved,
		})
	} else {
		hub.Broadcast(EventSyncFailed, map[string]interface{}{"errors": summary.Errors})
	}

	consumer := queue.NewConsumer(store, client, net)
	// Recover preference writes left behind by a crash; from here on
	// the autosave engine owns preference pushes.
	consumer.IncludePreferences(true)
	if _, err := consumer.DrainOnce(context.Background()); err != nil {
		log.Warn("startup queue drain failed", map[string]interface{}{"error": fmt.Sprint(err)})
	}
	consumer.IncludePreferences(false)

	sched := scheduler.NewScheduler(consumer, store, net, cfg.Sync.DrainInterval)
	sched.OnDrain(func(res *queue.Result) {
		hub.Broadcast(EventQueueDrained, map[string]interface{}{
			"processed": res.Processed,
			"failed":    res.Failed,
		})
	})
	sched.Start(context.Background())

	engine, err := autosave.NewEngine(store, client, net, autosave.Config{
		Debounce:      cfg.Autosave.Debounce,
		StatusLinger:  cfg.Autosave.StatusLinger,
		RatePerMinute: cfg.Autosave.RatePerMinute,
		Burst:         cfg.Autosave.Burst,
	})
	if err != nil {
		log.Error("failed to start autosave engine", err)
		os.Exit(1)
	}
	engine.OnStatus(func(status string) {
		hub.Broadcast(EventAutosaveStatus, map[string]interface{}{"status": status})
	})

	net.Subscribe(func(online bool) {
		hub.Broadcast(EventNetworkChanged, map[string]interface{}{"online": online})
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"userId": userID,
			"online": net.Online(),
		})
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		size, _ := store.QueueSize()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"reconcile": summary,
			"queueSize": size,
			"autosave":  engine.Status(),
			"lastDrain": sched.LastDrain(),
			"counters":  telemetry.Default().Snapshot(),
		})
	})
	backups := export.NewService(store)
	mux.HandleFunc("/api/backup", backupHandler(backups, hub, log))
	mux.HandleFunc("/api/restore", restoreHandler(backups, log))
	mux.HandleFunc("/ws", hub.ServeWS)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	server := &http.Server{Addr: "localhost:" + port, Handler: mux}

	go func() {
		log.Info("desktop core listening", map[string]interface{}{"port": port})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Flush pending preference edits before the process dies.
	if err := engine.Close(shutdownCtx); err != nil {
		log.Warn("autosave flush failed on shutdown", map[string]interface{}{"error": fmt.Sprint(err)})
	}
	sched.Stop()
	server.Shutdown(shutdownCtx)
}
