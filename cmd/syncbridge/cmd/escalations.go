package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

var (
	escServerURL string
	escToken     string
)

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Review and resolve escalated conflicts",
	Long: `Escalations talks to a running syncbridge server. Low-confidence
conflicts are parked there until a human picks a winner or supplies a
value.`,
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending escalations",
	RunE:  runEscalationsList,
}

var escalationsResolveCmd = &cobra.Command{
	Use:   "resolve <escalation-id>",
	Short: "Resolve an escalation",
	Args:  cobra.ExactArgs(1),
	RunE:  runEscalationsResolve,
}

func init() {
	escalationsCmd.PersistentFlags().StringVar(&escServerURL, "server", "http://localhost:8420", "syncbridge server URL")
	escalationsCmd.PersistentFlags().StringVar(&escToken, "token", "", "API token")

	escalationsListCmd.Flags().String("entity", "", "filter by entity (<type>/<id>)")

	escalationsResolveCmd.Flags().String("winner", "", "winning side (registry|agent_store)")
	escalationsResolveCmd.Flags().String("value", "", "explicit resolved value as JSON")
	escalationsResolveCmd.Flags().String("by", "", "reviewer name recorded with the decision")
	escalationsResolveCmd.Flags().String("note", "", "free-form note recorded with the decision")

	escalationsCmd.AddCommand(escalationsListCmd)
	escalationsCmd.AddCommand(escalationsResolveCmd)
	rootCmd.AddCommand(escalationsCmd)
}

func runEscalationsList(cmd *cobra.Command, _ []string) error {
	url := escServerURL + "/api/v1/escalations"
	if filter, _ := cmd.Flags().GetString("entity"); filter != "" {
		url += "?entity=" + filter
	}

	var payload struct {
		Escalations []resolver.Escalation `json:"escalations"`
		Count       int                   `json:"count"`
	}
	if err := apiCall(cmd, http.MethodGet, url, nil, &payload); err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload.Escalations)
	}

	if payload.Count == 0 {
		fmt.Println("no pending escalations")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTITY\tPATH\tSEVERITY\tRAISED")
	for _, esc := range payload.Escalations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			esc.ID, esc.EntityID, esc.Conflict.Path,
			esc.Conflict.Severity, esc.RaisedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runEscalationsResolve(cmd *cobra.Command, args []string) error {
	winner, _ := cmd.Flags().GetString("winner")
	rawValue, _ := cmd.Flags().GetString("value")
	by, _ := cmd.Flags().GetString("by")
	note, _ := cmd.Flags().GetString("note")

	decision := coordinator.Decision{
		Winner:     entity.Source(winner),
		ResolvedBy: by,
		Note:       note,
	}
	if rawValue != "" {
		var v entity.Value
		if err := json.Unmarshal([]byte(rawValue), &v); err != nil {
			return fmt.Errorf("parsing --value: %w", err)
		}
		decision.Value = &v
	}
	if err := decision.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	var result coordinator.Result
	url := escServerURL + "/api/v1/escalations/" + args[0] + "/resolve"
	if err := apiCall(cmd, http.MethodPost, url, body, &result); err != nil {
		return err
	}
	return printResult(outputFmt, &result)
}

// apiCall performs a request against the server and decodes the data
// half of the response envelope into out.
func apiCall(cmd *cobra.Command, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if escToken != "" {
		req.Header.Set("Authorization", "Bearer "+escToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Details != "" {
			return fmt.Errorf("%s: %s (%s)", envelope.Error.Code, envelope.Error.Message, envelope.Error.Details)
		}
		return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
