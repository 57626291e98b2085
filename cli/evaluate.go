package cli

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/always-cache/respcache/rfc9111"
)

var evaluateDefaultCacheableFlag bool

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [cache-control...]",
	Short: "Evaluate Cache-Control values",
	Long: `Evaluate each argument as one Cache-Control field value and print its verdict as a
line of JSON. Without arguments, every line of standard input is evaluated.

Malformed values still produce a verdict; the error is added to the output.`,
	Example: `  respcache evaluate 'public, max-age=60' 'no-store'
  printf 'private\nmax-age=0\n' | respcache evaluate`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().BoolVar(&evaluateDefaultCacheableFlag, "default-cacheable", false, "Verdict for values without any directive")
}

type evaluation struct {
	Value string `json:"value"`
	rfc9111.Verdict
	Error string `json:"error,omitempty"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	e := rfc9111.Evaluator{DefaultCacheable: evaluateDefaultCacheableFlag}
	enc := json.NewEncoder(cmd.OutOrStdout())
	eval := func(value string) error {
		verdict, err := e.EvaluateString(value)
		res := evaluation{Value: value, Verdict: verdict}
		if err != nil {
			res.Error = err.Error()
		}
		return enc.Encode(res)
	}

	if len(args) > 0 {
		for _, arg := range args {
			if err := eval(arg); err != nil {
				return err
			}
		}
		return nil
	}
	return evaluateLines(cmd.InOrStdin(), eval)
}

func evaluateLines(r io.Reader, eval func(string) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := eval(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
