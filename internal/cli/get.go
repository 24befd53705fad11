package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transport"
)

var (
	getMethod  string
	getHeaders []string
	getData    string
	getVerbose bool
	getTimeout time.Duration
)

var getCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Send one request and print the response",
	Long: `Send a single HTTP/1.1 request over a fresh connection and print the
response. The command fails when the transaction has an error.

Examples:
  txwire get http://localhost:8080/echo
  txwire get -X POST -d 'hello' -H 'Content-Type: text/plain' http://localhost:8080/echo
  txwire get -v http://localhost:8080/stream?n=3`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getMethod, "method", "X", http.MethodGet, "Request method")
	getCmd.Flags().StringArrayVarP(&getHeaders, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	getCmd.Flags().StringVarP(&getData, "data", "d", "", "Request body")
	getCmd.Flags().BoolVarP(&getVerbose, "verbose", "v", false, "Print headers and transaction details")
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 0, "Overall timeout (0 = none)")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	headers, err := parseHeaders(getHeaders)
	if err != nil {
		return err
	}

	req := protocol.NewRequest(strings.ToUpper(getMethod), args[0])
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if getData != "" {
		req.SetBody(protocol.StaticContent([]byte(getData)))
	}

	ctx := cmd.Context()
	if getTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, getTimeout)
		defer cancel()
	}

	client := transport.NewClient(cfg.Client.TransportConfig(), transport.WithLogger(logger))
	start := time.Now()
	ex, err := client.Do(ctx, req)
	if err != nil {
		return err
	}

	printerFor(cmd).Transaction(ex.Tx(), time.Since(start), getVerbose)
	if txErr := ex.Error(); txErr != nil {
		return fmt.Errorf("transaction failed: %w", txErr)
	}
	return nil
}

// parseHeaders turns 'Name: value' strings into a map.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
