/*
PURPOSE:
  Defines the 'probe' subcommand.
  Sends synthetic completion requests to check that a server is up and
  roughly how fast it answers before a sweep is started.

REQUIREMENTS:
  User-specified:
  - Random-word prompt of --num-words words, --max-tokens completion cap.

  Implementation-discovered:
  - --count > 1 switches to a paced burst (internal/probe.Burst).

ARCHITECTURE INTEGRATION:
  - Calls: internal/probe.New(), internal/probe.Burst.Run()

ERROR HANDLING:
  - Connection and HTTP errors are printed by the prober and returned.

IMPLEMENTATION RULES:
  - All report text goes to stdout.

USAGE:
  bench-sweep probe --endpoint http://gpu-01:8000/v1/completions

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/probe/probe.go
  - internal/probe/burst.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/bench-sweep/internal/probe"
)

var (
	probeWords     int
	probeMaxTokens int
	probeEndpoint  string
	probeModel     string
	probeCount     int
	probeRate      float64
	probeSeed      int64
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send one synthetic completion request and report its latency",
	Example: `  bench-sweep probe --endpoint http://gpu-01:8000/v1/completions --num-words 30000 --max-tokens 2000

  # 512 requests, 50 per second
  bench-sweep probe --num-words 5000 --max-tokens 250 --count 512 --rate 50`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := probeSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		p := probe.New(probeEndpoint, probeModel, cmd.OutOrStdout())

		if probeCount > 1 {
			b := &probe.Burst{
				Prober:    p,
				Count:     probeCount,
				Rate:      probeRate,
				Words:     probeWords,
				MaxTokens: probeMaxTokens,
				Rand:      rng,
			}
			_, err := b.Run(cmd.Context())
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Generating a prompt with %d random words...\n", probeWords)
		_, err := p.Send(cmd.Context(), probe.GeneratePrompt(rng, probeWords), probeMaxTokens)
		return err
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().IntVar(&probeWords, "num-words", 12000, "number of random words in the prompt")
	probeCmd.Flags().IntVar(&probeMaxTokens, "max-tokens", 64, "max_tokens for the completion request")
	probeCmd.Flags().StringVar(&probeEndpoint, "endpoint", "http://localhost:8000/v1/completions", "completion endpoint URL")
	probeCmd.Flags().StringVar(&probeModel, "model", "Qwen/Qwen3-235B-A22B", "model name sent in the request")
	probeCmd.Flags().IntVar(&probeCount, "count", 1, "number of independent requests")
	probeCmd.Flags().Float64Var(&probeRate, "rate", 0, "requests per second when --count > 1 (0 sends all at once)")
	probeCmd.Flags().Int64Var(&probeSeed, "seed", 0, "prompt RNG seed (0 uses the clock)")
}
