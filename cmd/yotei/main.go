package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ajisai/yotei/internal/config"
	"github.com/ajisai/yotei/internal/database"
	"github.com/ajisai/yotei/internal/logging"
	"github.com/ajisai/yotei/internal/push"
	"github.com/ajisai/yotei/internal/server"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the config file")
	genKeys := flag.Bool("generate-vapid-keys", false, "generate a VAPID key pair and exit")
	listBackups := flag.Bool("list-backups", false, "list recent backups and exit")
	restoreID := flag.Int64("restore", 0, "restore the backup with this id and exit")
	flag.Parse()

	logger := logging.Setup(os.Getenv("YOTEI_LOG_LEVEL"))

	if *genKeys {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Error("generate VAPID keys", "error", err)
			os.Exit(1)
		}
		fmt.Printf("vapid_public_key: %s\nvapid_private_key: %s\n", pub, priv)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv, err := server.New(cfg, db, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	if *listBackups {
		printBackups(srv)
		return
	}
	if *restoreID != 0 {
		restore(srv, *restoreID, logger)
		return
	}

	if err := srv.Start(); err != nil {
		logger.Error("start scheduler", "error", err)
		os.Exit(1)
	}
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("yotei running at http://%s\n", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("YOTEI_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func printBackups(srv *server.Server) {
	backups, err := srv.BackupManager().History(20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list backups: %v\n", err)
		os.Exit(1)
	}
	if len(backups) == 0 {
		fmt.Println("no backups recorded")
		return
	}
	for _, b := range backups {
		line := fmt.Sprintf("%d\t%s\t%s\t%d bytes\t%s",
			b.ID, b.CreatedAt.Format(time.RFC3339), b.Status, b.SizeBytes, b.Filename)
		if b.ErrorMessage != "" {
			line += "\t" + b.ErrorMessage
		}
		fmt.Println(line)
	}
}

func restore(srv *server.Server, id int64, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := srv.BackupManager().Restore(ctx, id); err != nil {
		logger.Error("restore backup", "id", id, "error", err)
		os.Exit(1)
	}
	fmt.Printf("backup %d restored; start the server to use it\n", id)
}
