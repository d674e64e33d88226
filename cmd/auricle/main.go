package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/auricle-ai/auricle-go/internal/worker"
	"github.com/auricle-ai/auricle-go/pkg/config"
	"github.com/auricle-ai/auricle-go/pkg/pipeline"
	"github.com/auricle-ai/auricle-go/pkg/plugin"
	_ "github.com/auricle-ai/auricle-go/pkg/plugin/elevenlabs" // register tts
	_ "github.com/auricle-ai/auricle-go/pkg/plugin/openai"     // register llm/stt/tts
	_ "github.com/auricle-ai/auricle-go/pkg/plugin/silero"     // register vad
	"github.com/auricle-ai/auricle-go/pkg/room"
	"github.com/auricle-ai/auricle-go/pkg/turn"
	"github.com/auricle-ai/auricle-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "auricle",
	Short:        "Auricle - real-time voice agents",
	Long:         "auricle runs voice pipeline agents: VAD, speech recognition, an LLM and speech synthesis wired into a realtime room.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker management commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a dispatch worker that serves voice agent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyWorkerFlags(cmd, &cfg.Worker)

		if cfg.Worker.URL == "" {
			return fmt.Errorf("worker url is required (--url or config)")
		}
		if cfg.Worker.Token == "" {
			return fmt.Errorf("worker token is required (--token or config)")
		}

		logger.Info("starting worker",
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("url", cfg.Worker.URL),
			slog.String("agent", cfg.Worker.AgentName))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		w := worker.New(worker.Config{
			URL:       cfg.Worker.URL,
			Token:     cfg.Worker.Token,
			AgentName: cfg.Worker.AgentName,
			MaxJobs:   cfg.Worker.MaxJobs,
		}, jobHandler(cfg, logger), logger)

		return w.Run(ctx)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Voice agent commands",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single agent session against a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		participant, _ := cmd.Flags().GetString("participant")
		greeting, _ := cmd.Flags().GetString("greeting")

		if url == "" {
			return fmt.Errorf("--url is required")
		}
		if token == "" {
			return fmt.Errorf("--token is required")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runSession(ctx, cfg, sessionParams{
			URL:         url,
			Token:       token,
			Participant: participant,
			Greeting:    greeting,
		}, logger)
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Plugin management commands",
}

var pluginListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List registered plugins",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			fmt.Println("no plugins registered")
			return nil
		}

		fmt.Printf("%-8s %-16s %-10s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		for _, p := range plugins {
			pv := p.Version
			if pv == "" {
				pv = "-"
			}
			fmt.Printf("%-8s %-16s %-10s %s\n", p.Kind, p.Name, pv, p.Description)
		}
		return nil
	},
}

var pluginDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download missing model files for registered plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		var failed int
		for _, p := range plugin.List("") {
			if p.Downloader == nil {
				continue
			}
			logger.Info("downloading model files",
				slog.String("kind", p.Kind), slog.String("name", p.Name))
			if err := p.Downloader.Download(); err != nil {
				logger.Error("download failed",
					slog.String("kind", p.Kind),
					slog.String("name", p.Name),
					slog.String("error", err.Error()))
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d plugin downloads failed", failed)
		}
		return nil
	},
}

var turnCmd = &cobra.Command{
	Use:   "turn",
	Short: "Turn detection commands",
}

var turnDownloadCmd = &cobra.Command{
	Use:   "download-models",
	Short: "Download end-of-turn detection models",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		logger.Info("downloading turn detection models")

		if err := turn.NewDownloader("").DownloadAll(); err != nil {
			return fmt.Errorf("downloading models: %w", err)
		}
		logger.Info("turn detection models ready")
		return nil
	},
}

type sessionParams struct {
	URL         string
	Token       string
	Room        string
	Participant string
	Greeting    string
}

// jobHandler builds the per-job session runner for the dispatch worker.
func jobHandler(cfg *config.Config, logger *slog.Logger) worker.Handler {
	return func(ctx context.Context, job worker.JobRequest) error {
		logger.Info("running job",
			slog.String("job_id", job.ID),
			slog.String("room", job.RoomName))

		return runSession(ctx, cfg, sessionParams{
			URL:         job.RoomURL,
			Token:       job.RoomToken,
			Room:        job.RoomName,
			Participant: job.Participant,
		}, logger)
	}
}

// runSession connects to a room and serves one agent conversation until the
// context ends.
func runSession(ctx context.Context, cfg *config.Config, params sessionParams, logger *slog.Logger) error {
	v, s, l, t, err := cfg.BuildProviders()
	if err != nil {
		return fmt.Errorf("building providers: %w", err)
	}

	r, err := room.NewRoom(room.Config{
		URL:         params.URL,
		Token:       params.Token,
		Name:        params.Room,
		Participant: params.Participant,
	})
	if err != nil {
		return err
	}
	if err := r.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to room: %w", err)
	}
	defer r.Disconnect()

	opts := cfg.AgentOptions()
	opts = append(opts, r.TranscriptionOptions(params.Participant, "agent")...)

	agent := pipeline.NewVoicePipelineAgent(v, s, l, t, opts...)
	defer agent.Close()

	sink, err := room.Attach(ctx, r, agent)
	if err != nil {
		return fmt.Errorf("attaching agent: %w", err)
	}
	defer sink.Close()

	if params.Greeting != "" {
		if _, err := agent.Say(pipeline.TextSource(params.Greeting), true, true); err != nil {
			logger.Warn("greeting failed", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyWorkerFlags(cmd *cobra.Command, w *config.Worker) {
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		w.URL = url
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		w.Token = token
	}
	if name, _ := cmd.Flags().GetString("agent-name"); name != "" {
		w.AgentName = name
	}
	if maxJobs, _ := cmd.Flags().GetInt("max-jobs"); maxJobs > 0 {
		w.MaxJobs = maxJobs
	}
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch os.Getenv("AURICLE_LOG_LEVEL") {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if os.Getenv("AURICLE_LOG_FORMAT") == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func init() {
	workerRunCmd.Flags().String("config", "", "Path to YAML config file")
	workerRunCmd.Flags().String("url", "", "Dispatch server WebSocket URL")
	workerRunCmd.Flags().String("token", "", "Dispatch server token")
	workerRunCmd.Flags().String("agent-name", "", "Agent name reported on registration")
	workerRunCmd.Flags().Int("max-jobs", 0, "Maximum concurrent jobs (0 = unbounded)")

	agentRunCmd.Flags().String("config", "", "Path to YAML config file")
	agentRunCmd.Flags().String("url", "", "Room server WebSocket URL")
	agentRunCmd.Flags().String("token", "", "Room access token")
	agentRunCmd.Flags().String("participant", "", "Participant identity to listen to")
	agentRunCmd.Flags().String("greeting", "", "Message to speak on join")

	workerCmd.AddCommand(workerRunCmd)
	agentCmd.AddCommand(agentRunCmd)
	pluginCmd.AddCommand(pluginListCmd, pluginDownloadCmd)
	turnCmd.AddCommand(turnDownloadCmd)
	rootCmd.AddCommand(versionCmd, workerCmd, agentCmd, pluginCmd, turnCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
