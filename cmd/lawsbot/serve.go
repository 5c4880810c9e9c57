// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/channel/telegram"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Long:  "Load configuration, wire all subsystems, and poll Telegram for questions until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Telegram.Token == "" {
		return lawserr.New(lawserr.CodeCLIInputInvalid, "telegram.token is required (set LAWSBOT_TELEGRAM_TOKEN or the config file)")
	}

	app, err := WireApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tgBot, err := telegram.NewBot(ctx, telegram.Options{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeout,
		AdminIDs:    cfg.Telegram.AdminIDs,
	}, app.Orchestrator, app.MessageStore)
	if err != nil {
		return err
	}

	return tgBot.Run(ctx)
}
