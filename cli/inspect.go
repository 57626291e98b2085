package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/always-cache/respcache/rfc9111"
	"github.com/always-cache/respcache/rfc9112"
)

var (
	inspectJSONFlag    bool
	inspectTimeoutFlag time.Duration
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <host:port> [target]",
	Short: "Fetch a response and show whether it may be cached",
	Long: `Send GET target (default /) to host:port and read the response with the strict
HTTP/1.1 reader. Prints the status line, the header fields, the number of body bytes
and the Cache-Control verdict.

Malformed responses are reported with the offending line.`,
	Example: `  respcache inspect 127.0.0.1:8000
  respcache inspect example.com:80 /index.html --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectJSONFlag, "json", false, "Print JSON")
	inspectCmd.Flags().DurationVar(&inspectTimeoutFlag, "timeout", 10*time.Second, "Deadline of the exchange")
}

type inspection struct {
	Status    string          `json:"status"`
	Code      int             `json:"code"`
	Header    []rfc9112.Field `json:"header"`
	BodyBytes int64           `json:"bodyBytes"`
	Verdict   rfc9111.Verdict `json:"verdict"`
	Error     string          `json:"error,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	addr := args[0]
	target := "/"
	if len(args) > 1 {
		target = args[1]
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), inspectTimeoutFlag)
	defer cancel()

	res, err := inspect(ctx, addr, target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inspectJSONFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(out, res.Status)
	for _, f := range res.Header {
		fmt.Fprintf(out, "%s: %s\n", f.Name, f.Value)
	}
	fmt.Fprintf(out, "\n%d body bytes\n", res.BodyBytes)
	verdict, _ := json.Marshal(res.Verdict)
	fmt.Fprintf(out, "verdict: %s\n", verdict)
	if res.Error != "" {
		fmt.Fprintf(out, "error: %s\n", res.Error)
	}
	return nil
}

// inspect fetches target from addr. Only failures before the body are returned as errors;
// body and directive errors are recorded in the result.
func inspect(ctx context.Context, addr, target string) (inspection, error) {
	var res inspection
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return res, err
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	header := rfc9112.Header{
		{Name: "Host", Value: host},
		{Name: "Connection", Value: "close"},
	}
	if err := rfc9112.WriteHead(conn, "GET "+target+" HTTP/1.1", header); err != nil {
		return res, err
	}

	resp, err := rfc9112.ReadResponse(ctx, conn, rfc9112.WithRequestMethod("GET"))
	if err != nil {
		return res, err
	}
	res.Status = resp.StatusLine().String()
	res.Code = resp.StatusCode()
	res.Header = resp.Header()
	log.Trace().Str("status", res.Status).Int("fields", len(res.Header)).Msg("Read response head")

	verdict, verr := rfc9111.Evaluator{}.EvaluateHeader(resp.Header())
	res.Verdict = verdict
	if verr != nil {
		res.Error = verr.Error()
	}

	body, err := resp.Body()
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	defer body.Close()
	res.BodyBytes, err = io.Copy(io.Discard, body)
	if err != nil {
		res.Error = err.Error()
	}
	return res, nil
}
