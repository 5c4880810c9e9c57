// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/bot"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a one-shot question from the command line",
		Long:  "Run a single question through the full answering pipeline and print the answer, bypassing Telegram.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return lawserr.New(lawserr.CodeCLIInputInvalid, "question cannot be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := WireApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	outcome, err := app.Orchestrator.Answer(cmd.Context(), bot.Request{Query: query})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), outcome.AnswerText)
	return err
}
