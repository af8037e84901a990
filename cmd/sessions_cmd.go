package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	serverToken string
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions on a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3000", "server base URL")
	cmd.PersistentFlags().StringVar(&serverToken, "token", os.Getenv("FIREZAP_TOKEN"), "bearer token")

	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsEnsureCmd())
	cmd.AddCommand(sessionsStatusCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	cmd.AddCommand(sessionsSendCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Sessions []string `json:"sessions"`
			}
			if err := apiCall(http.MethodGet, "/sessions", nil, &resp); err != nil {
				return err
			}
			sort.Strings(resp.Sessions)

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(resp.Sessions)
			}
			for _, id := range resp.Sessions {
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure [id]",
		Short: "Create a session (or reuse an existing one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			if err := apiCall(http.MethodPost, "/session/"+args[0], nil, &resp); err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", resp.ID, resp.Status)
			return nil
		},
	}
}

func sessionsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show a session's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Detail string `json:"detail"`
			}
			if err := apiCall(http.MethodGet, "/session/"+args[0]+"/status", nil, &resp); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "id\t%s\n", resp.ID)
			fmt.Fprintf(w, "status\t%s\n", resp.Status)
			if resp.Detail != "" {
				fmt.Fprintf(w, "detail\t%s\n", resp.Detail)
			}
			return w.Flush()
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Tear a session down and wipe its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			if err := apiCall(http.MethodDelete, "/session/"+args[0], nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Deleted session: %s\n", resp.ID)
			return nil
		},
	}
}

func sessionsSendCmd() *cobra.Command {
	var to, msg string
	cmd := &cobra.Command{
		Use:   "send [id]",
		Short: "Send a text message through a ready session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"to": to, "msg": msg}
			var resp struct {
				Result struct {
					ID string `json:"id"`
				} `json:"result"`
			}
			if err := apiCall(http.MethodPost, "/session/"+args[0]+"/send", body, &resp); err != nil {
				return err
			}
			fmt.Printf("Sent: %s\n", resp.Result.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number or JID")
	cmd.Flags().StringVar(&msg, "msg", "", "message text")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("msg")
	return cmd
}

// apiCall performs one JSON request against the running server.
func apiCall(method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if serverToken != "" {
		req.Header.Set("Authorization", "Bearer "+serverToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the server running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("%s: %s", errResp.Error.Code, errResp.Error.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
