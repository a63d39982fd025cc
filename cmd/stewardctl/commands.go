package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the daemon is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Status  string `json:"status"`
				Service string `json:"service"`
			}
			if err := newClient().get("/health", &out); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", out.Service, out.Status)
			return nil
		},
	}
}

func newApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and resolve pending approvals",
	}
	cmd.AddCommand(newApprovalsListCmd(), newApprovalsResolveCmd())
	return cmd
}

func newApprovalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Approvals []struct {
					ID             string    `json:"id"`
					ConversationID string    `json:"conversation_id"`
					Description    string    `json:"description"`
					Sandboxed      bool      `json:"is_sandboxed"`
					CreatedAt      time.Time `json:"created_at"`
				} `json:"approvals"`
			}
			if err := newClient().get("/approvals", &out); err != nil {
				return err
			}
			if len(out.Approvals) == 0 {
				fmt.Println("No pending approvals.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONVERSATION\tSANDBOXED\tAGE\tDESCRIPTION")
			for _, a := range out.Approvals {
				age := time.Since(a.CreatedAt).Round(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					a.ID, a.ConversationID, a.Sandboxed, age, a.Description)
			}
			return w.Flush()
		},
	}
}

func newApprovalsResolveCmd() *cobra.Command {
	var approve, deny bool
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Approve or deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == deny {
				return fmt.Errorf("pass exactly one of --approve or --deny")
			}
			body := map[string]interface{}{"approved": approve}
			var out struct {
				ID       string `json:"id"`
				Approved bool   `json:"approved"`
			}
			if err := newClient().post("/approvals/"+args[0]+"/resolve", body, &out); err != nil {
				return err
			}
			verdict := "denied"
			if out.Approved {
				verdict = "approved"
			}
			fmt.Printf("%s %s\n", out.ID, verdict)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny the request")
	return cmd
}

func newStreamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Start, list, and stop agent streams",
	}
	cmd.AddCommand(newStreamsStartCmd(), newStreamsListCmd(), newStreamsStopCmd(), newStreamsStopAllCmd())
	return cmd
}

func newStreamsStartCmd() *cobra.Command {
	var conversationID, provider string
	cmd := &cobra.Command{
		Use:   "start <message>",
		Short: "Start one agent turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"content": args[0]}
			if conversationID != "" {
				body["conversation_id"] = conversationID
			}
			if provider != "" {
				body["provider"] = provider
			}
			var out struct {
				ConversationID string `json:"conversation_id"`
			}
			if err := newClient().post("/streams", body, &out); err != nil {
				return err
			}
			fmt.Println(out.ConversationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	cmd.Flags().StringVar(&provider, "provider", "", "provider to use for this turn")
	return cmd
}

func newStreamsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations with an active stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Active []string `json:"active"`
			}
			if err := newClient().get("/streams", &out); err != nil {
				return err
			}
			if len(out.Active) == 0 {
				fmt.Println("No active streams.")
				return nil
			}
			for _, id := range out.Active {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newStreamsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <conversation-id>",
		Short: "Stop the stream on a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().del("/streams/"+args[0], nil); err != nil {
				return err
			}
			fmt.Println("stopped", args[0])
			return nil
		},
	}
}

func newStreamsStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every active stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Stopped int `json:"stopped"`
			}
			if err := newClient().post("/streams/stop_all", nil, &out); err != nil {
				return err
			}
			fmt.Printf("stopped %d stream(s)\n", out.Stopped)
			return nil
		},
	}
}

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Browse persisted conversations",
	}
	cmd.AddCommand(newConversationsListCmd(), newConversationsTurnsCmd())
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Conversations []struct {
					ID        string    `json:"id"`
					Title     string    `json:"title"`
					Provider  string    `json:"provider"`
					CreatedAt time.Time `json:"created_at"`
				} `json:"conversations"`
			}
			if err := newClient().get("/conversations", &out); err != nil {
				return err
			}
			if len(out.Conversations) == 0 {
				fmt.Println("No conversations.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tCREATED\tTITLE")
			for _, c := range out.Conversations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					c.ID, c.Provider, c.CreatedAt.Format(time.RFC3339), c.Title)
			}
			return w.Flush()
		},
	}
}

func newConversationsTurnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "turns <conversation-id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Turns []struct {
					UserMessage  string `json:"user_message"`
					ResponseText string `json:"response_text"`
					InputTokens  int    `json:"input_tokens"`
					OutputTokens int    `json:"output_tokens"`
				} `json:"turns"`
			}
			if err := newClient().get("/conversations/"+args[0]+"/turns", &out); err != nil {
				return err
			}
			for i, t := range out.Turns {
				if i > 0 {
					fmt.Println()
				}
				fmt.Printf("> %s\n\n%s\n", t.UserMessage, t.ResponseText)
				if t.InputTokens > 0 || t.OutputTokens > 0 {
					fmt.Printf("[tokens: %d in / %d out]\n", t.InputTokens, t.OutputTokens)
				}
			}
			return nil
		},
	}
}
