package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/core"
)

var chatFlags struct {
	user string
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run an interview in the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatFlags.user, "user", "local", "User id for the session")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	eng, err := newEngine(ctx, config.AppConfig)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	req := core.Request{UserID: chatFlags.user, SessionID: uuid.NewString()}
	fmt.Fprintln(out, "Describe how you feel, or press Enter to start. Type 'quit' to leave.")

	for {
		resp, err := eng.service.HandleTurn(ctx, req)
		if inv, ok := core.AsInvalidInput(err); ok {
			fmt.Fprintf(out, "! %s\n", inv.Message)
		} else if err != nil {
			return err
		}

		switch resp.Kind {
		case core.KindComplete:
			fmt.Fprintln(out, resp.Message)
			if resp.DiagnosisID != "" {
				fmt.Fprintf(out, "(saved as %s)\n", resp.DiagnosisID)
			}
			return nil
		case core.KindAnswer:
			fmt.Fprintln(out, resp.Message)
		case core.KindQuestion:
			printQuestion(out, resp.Question)
		}

		fmt.Fprint(out, "> ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		req.Message = line
	}
}

func printQuestion(w io.Writer, q *core.Question) {
	fmt.Fprintf(w, "[%s] %s\n", q.Progress, q.Text)
	if len(q.Options) > 0 {
		fmt.Fprintf(w, "    options: %s\n", strings.Join(q.Options, " / "))
	}
}
