package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/PersonaKit/internal/services"
)

// chatCmd holds a streaming conversation with one persona
func newChatCmd() *cobra.Command {
	var (
		title   string
		message string
		resume  string
	)
	cmd := &cobra.Command{
		Use:   "chat [character-id]",
		Short: "Chat with a persona",
		Long: `Starts a dialogue with a persona and streams replies to the terminal.

Type /exit (or send EOF) to leave, /summary for a dialogue summary.
With --message a single turn is sent and the command exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			dialogueID := resume
			if dialogueID == "" {
				d, err := a.Dialogues.Create(args[0], title)
				if err != nil {
					return err
				}
				dialogueID = d.ID
				fmt.Fprintf(out, "Dialogue %s started: %s\n", d.ID, d.Title)
			} else if _, err := a.Dialogues.Get(dialogueID); err != nil {
				return err
			}

			send := func(content string) error {
				_, err := a.Dialogues.SendMessageStream(cmd.Context(), dialogueID, content, func(ev services.StreamEvent) {
					if !ev.Done {
						fmt.Fprint(out, ev.Fragment)
					}
				})
				fmt.Fprintln(out)
				return err
			}

			if message != "" {
				return send(message)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/summary":
					summary, err := a.Dialogues.SummarizeDialogue(cmd.Context(), dialogueID)
					if err != nil {
						fmt.Fprintln(out, "Error:", summarize(err))
						continue
					}
					fmt.Fprintln(out, summary.Summary)
					continue
				}
				if err := send(line); err != nil {
					// 单轮失败不结束会话
					fmt.Fprintln(out, "Error:", summarize(err))
				}
			}
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "dialogue title")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	cmd.Flags().StringVar(&resume, "dialogue", "", "continue an existing dialogue")
	return cmd
}
