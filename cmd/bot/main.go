// Package main - точка входа Telegram-бота, выдающего учебные материалы.
//
// Бот ведёт студента по выбору факультета, специальности, цикла, курса,
// папки и файла, а свободный текст разбирает каскадом: курс, папка, файл и
// только затем Dialogflow.
//
// Архитектура следует принципам Clean Architecture:
// - Domain: пользователь, выбор, каталог, виды ошибок
// - Application: оркестратор разговора
// - Infrastructure: PostgreSQL, Redis, S3, Dialogflow, Bot API
// - Interface: Telegram bot, HTTP endpoints
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/estudia/material-bot/config"
	"github.com/estudia/material-bot/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd собирает дерево команд. Без подкоманды запускается бот.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "material-bot",
		Short:         "Telegram bot that delivers study material",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}

	format := logger.Format(cfg.Observability.LogFormat)
	if format == "" {
		// JSON для production (лучше для агрегаторов логов), текст для разработки
		format = logger.FormatJSON
		if cfg.IsDevelopment() {
			format = logger.FormatConsole
		}
	}

	opts := logger.DefaultOptions()
	opts.Level = level
	opts.Format = format
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("version", version),
	)
}
