package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// queryCmd is a thin one-shot client over §6.5's POST /rpc endpoint, for
// poking a running node from a shell without writing a script.
func queryCmd() *cobra.Command {
	var addr string
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "query <method>",
		Short: "issue a single RPC method call against a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(addr, args[0], paramsJSON)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "node API base URL")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON-encoded params object")
	return cmd
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func runQuery(addr, method, paramsJSON string) error {
	req := rpcRequest{Method: method}
	if paramsJSON != "" {
		req.Params = json.RawMessage(paramsJSON)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(addr+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
