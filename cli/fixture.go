package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/always-cache/respcache/pkg/fixture"
)

var (
	fixtureAddrFlag   string
	fixtureLengthFlag int64
	fixtureChunkFlag  int
)

var fixtureCmd = &cobra.Command{
	Use:   "fixture <scenario>",
	Short: "Serve a canned origin scenario",
	Long: `Serve one of the canned origin scenarios the proxy is tested against.

Scenarios: ` + strings.Join(fixture.Names(), ", ") + `

The server answers one connection at a time with the next response of the scenario
and runs until interrupted.`,
	Example: `  respcache fixture simple --addr 127.0.0.1:8000
  respcache fixture huge --length 1000000 --chunk 4096`,
	Args: cobra.ExactArgs(1),
	RunE: runFixture,
}

func init() {
	rootCmd.AddCommand(fixtureCmd)

	fixtureCmd.Flags().StringVar(&fixtureAddrFlag, "addr", "127.0.0.1:8000", "Address to listen on")
	fixtureCmd.Flags().Int64Var(&fixtureLengthFlag, "length", fixture.HugeLength, "Body length of the huge scenario")
	fixtureCmd.Flags().IntVar(&fixtureChunkFlag, "chunk", fixture.HugeChunk, "Write size of the huge scenario")
}

func runFixture(cmd *cobra.Command, args []string) error {
	name := args[0]
	seq, ok := fixture.Named(name)
	if !ok {
		return fmt.Errorf("unknown scenario %q, use one of: %s", name, strings.Join(fixture.Names(), ", "))
	}
	if name == "huge" {
		if fixtureLengthFlag < 0 || fixtureChunkFlag < 1 {
			return fmt.Errorf("invalid length %d or chunk %d", fixtureLengthFlag, fixtureChunkFlag)
		}
		seq = fixture.Huge(fixtureLengthFlag, fixtureChunkFlag)
	}

	srv, err := fixture.Start(seq, fixture.Config{Addr: fixtureAddrFlag, Logger: &log.Logger})
	if err != nil {
		return err
	}
	log.Info().Str("scenario", name).Int("responses", len(seq.Scripts)).Msgf("Fixture listening on %s", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Wait(ctx)
	log.Info().Int("served", srv.Served()).Msg("Fixture stopped")
	return err
}
