package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fable/internal/chat"
	"fable/internal/config"
	"fable/internal/engine"
	"fable/internal/llm"
	"fable/internal/tui"
)

var errUnsupportedProvider = errors.New("unsupported provider")

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "fable: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dataDir    string
		chatID     string
	)

	cmd := &cobra.Command{
		Use:   "fable",
		Short: "fable tracks narrative state blocks across LLM chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(dataDir) != "" {
				cfg.DataDir = strings.TrimSpace(dataDir)
			}

			provider, model, err := buildProviderFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build provider: %w", err)
			}

			root := cfg.DefaultDataDir()
			logger, closeLogger, err := buildFileLogger(root)
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer closeLogger()

			store, err := chat.NewStore(chat.DefaultDir(root))
			if err != nil {
				return fmt.Errorf("open chat store: %w", err)
			}

			chats, err := resolveChats(cmd.Context(), store, strings.TrimSpace(chatID))
			if err != nil {
				return fmt.Errorf("resolve chats: %w", err)
			}

			saver := &chatSaver{store: store, log: logger}
			eng, err := engine.New(engine.Config{
				Provider:        provider,
				Model:           model,
				Logger:          logger,
				Affinity:        cfg.Tracker.Affinity,
				DefaultHeart:    cfg.Tracker.DefaultHeart,
				NudgeMinMinutes: cfg.Tracker.NudgeMinMinutes,
				NudgeMaxMinutes: cfg.Tracker.NudgeMaxMinutes,
				ContextWindow:   cfg.Tracker.ContextWindow,
				Saver:           saver,
			})
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			saver.engine = eng

			app := tui.NewApp(tui.AppConfig{
				Version:   "v0.1.0",
				ModelName: model,
				ThemeName: cfg.TUI.Theme,
				Engine:    eng,
				Store:     store,
				Chats:     chats,
			})

			program := tea.NewProgram(app, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory override")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat to open first; created if missing")
	return cmd
}

func buildProviderFromConfig(cfg config.Config) (llm.Provider, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Default)) {
	case "", "anthropic":
		settings, err := cfg.AnthropicSettings()
		if err != nil {
			return nil, "", fmt.Errorf("resolve anthropic settings: %w", err)
		}
		if strings.TrimSpace(settings.APIKey) == "" {
			return nil, "", llm.ErrMissingAPIKey
		}

		provider := llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Version: settings.Version,
			Retry: llm.RetryPolicy{
				MaxRetries: settings.Retry.MaxRetries,
				BaseDelay:  settings.Retry.BaseDelay,
				MaxDelay:   settings.Retry.MaxDelay,
			},
		})
		return provider, settings.Model, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedProvider, cfg.Provider.Default)
	}
}

// resolveChats lists stored chats, pinning requested to the front and
// creating it when it does not exist yet.
func resolveChats(ctx context.Context, store *chat.Store, requested string) ([]chat.ChatInfo, error) {
	infos, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	if requested == "" {
		return infos, nil
	}

	for i, info := range infos {
		if info.ID == requested {
			infos[0], infos[i] = infos[i], infos[0]
			return infos, nil
		}
	}

	if err := store.Save(ctx, &chat.Chat{ID: requested}); err != nil {
		return nil, err
	}
	infos, err = store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, info := range infos {
		if info.ID == requested {
			infos[0], infos[i] = infos[i], infos[0]
			break
		}
	}
	return infos, nil
}

// buildFileLogger writes structured logs to a file so the TUI keeps the
// terminal to itself.
func buildFileLogger(dataRoot string) (*zap.Logger, func(), error) {
	logDir := filepath.Join(dataRoot, ".fable")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{filepath.Join(logDir, "fable.log")}
	zcfg.ErrorOutputPaths = zcfg.OutputPaths

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// chatSaver persists the engine's active chat whenever a ledger mutation
// lands.
type chatSaver struct {
	store  *chat.Store
	log    *zap.Logger
	engine *engine.Engine
}

func (s *chatSaver) Save() {
	if s.engine == nil {
		return
	}
	active := s.engine.Chat()
	if active == nil {
		return
	}
	if err := s.store.Save(context.Background(), active); err != nil {
		s.log.Warn("persist chat failed", zap.String("chat", active.ID), zap.Error(err))
	}
}
