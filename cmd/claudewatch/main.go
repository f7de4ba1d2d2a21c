package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude-watch/backend/internal/agent"
	"github.com/claude-watch/backend/internal/chat"
	"github.com/claude-watch/backend/internal/config"
	"github.com/claude-watch/backend/internal/mock"
	"github.com/claude-watch/backend/internal/watcher"
	"github.com/claude-watch/backend/internal/ws"
)

var (
	configPath string
	portFlag   int
	workdir    string
	mockMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "claudewatch",
	Short: "Bridge voice and text front-ends to a Claude Code session",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket server and transcript watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		if portFlag > 0 {
			cfg.Server.Port = portFlag
		}
		if workdir != "" {
			cfg.Agent.WorkDir = workdir
		}
		if cfg.Agent.WorkDir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg.Agent.WorkDir = cwd
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "override server port")
	serveCmd.Flags().StringVar(&workdir, "workdir", "", "agent working directory (default: current directory)")
	serveCmd.Flags().BoolVar(&mockMode, "mock", false, "use a scripted mock agent instead of tmux")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := chat.NewStore(cfg.Chat.HistoryLimit)
	broadcaster := ws.NewBroadcaster(store, cfg.Agent.ContextWindow)

	w := watcher.New(cfg.Agent.WorkDir, cfg.Watcher)

	var runner agent.Runner
	if mockMode {
		log.Println("Starting in mock mode")
		runner = mock.NewRunner(cfg.Agent.WorkDir, 300*time.Millisecond)
	} else {
		runner = agent.NewTmuxRunner(cfg.Agent)
	}

	coordinator := agent.NewCoordinator(cfg.Agent, cfg.Watcher, runner, w)
	coordinator.RegisterCallbacks(watcher.Callbacks{
		OnText: broadcaster.Text,
		OnTool: broadcaster.Tool,
		OnUserMessage: func(text string) {
			msg := store.Append(chat.RoleUser, text)
			broadcaster.UserMessage(msg)
		},
		OnUsage: broadcaster.Usage,
		OnTurnComplete: func(text string, initiated bool) {
			if text != "" {
				store.Append(chat.RoleAssistant, text)
			}
			store.SetStatusAndNotify(chat.StatusIdle, broadcaster.Status)
			broadcaster.TurnComplete(text, initiated)
		},
	})

	go w.Run(ctx)

	server := ws.NewServer(cfg.Server, cfg.Agent.ContextWindow, store, broadcaster, coordinator)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		if err := coordinator.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
		os.Exit(0)
	}()

	return ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
