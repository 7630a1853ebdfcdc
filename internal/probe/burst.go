/*
PURPOSE:
  Sends many independent probe requests, optionally paced, and summarises
  their latencies.

REQUIREMENTS:
  Implementation-discovered:
  - A single request says little about a server under load; a paced burst
    gives a quick percentile view without running a full sweep.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (probe --count > 1)
  - Uses: golang.org/x/time/rate, internal/output

ERROR HANDLING:
  - Per-request failures are counted in the Summary, not returned.
  - Returns ctx errors from the limiter.

IMPLEMENTATION RULES:
  - Prompts are drawn from the seeded RNG on the sending goroutine only.

USAGE:
  b := &probe.Burst{Prober: p, Count: 512, Rate: 50, Words: 5000, MaxTokens: 250, Rand: rng}
  summary, err := b.Run(ctx)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/probe/probe.go

MAINTENANCE:
  - None.
*/

package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/daryltucker/bench-sweep/internal/output"
)

// Burst fires Count independent probes, paced at Rate requests per second.
// A zero Rate releases them all at once.
type Burst struct {
	Prober    *Prober
	Count     int
	Rate      float64
	Words     int
	MaxTokens int
	Rand      *rand.Rand
}

// Summary aggregates a burst.
type Summary struct {
	Sent       int
	Succeeded  int
	HTTPErrors int
	Errors     map[ErrorKind]int
	Latencies  []time.Duration
}

// Percentile returns the q-th latency percentile (0..1) of successful
// requests, or zero when there are none.
func (s *Summary) Percentile(q float64) time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	i := int(q * float64(len(s.Latencies)-1))
	return s.Latencies[i]
}

// Run sends every request and waits for all of them. Each request's report
// is written to the prober's output as one block once it finishes.
func (b *Burst) Run(ctx context.Context) (*Summary, error) {
	limit := rate.Inf
	if b.Rate > 0 {
		limit = rate.Limit(b.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	rng := b.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sum = &Summary{Errors: make(map[ErrorKind]int)}
	)

	for i := 0; i < b.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			wg.Wait()
			return sum, err
		}
		prompt := GeneratePrompt(rng, b.Words)
		sum.Sent++

		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			var buf bytes.Buffer
			p := *b.Prober
			p.Out = &buf
			report, err := p.Send(ctx, prompt, b.MaxTokens)

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(b.Prober.Out, "\n--- request %d/%d ---\n", n, b.Count)
			io.Copy(b.Prober.Out, &buf)

			switch {
			case err != nil:
				if rerr, ok := err.(*RequestError); ok {
					sum.Errors[rerr.Kind]++
				} else {
					sum.Errors[KindOther]++
				}
			case report.StatusCode != http.StatusOK:
				sum.HTTPErrors++
			default:
				sum.Succeeded++
				sum.Latencies = append(sum.Latencies, report.Latency)
			}
		}(i + 1)
	}
	wg.Wait()

	sort.Slice(sum.Latencies, func(i, j int) bool { return sum.Latencies[i] < sum.Latencies[j] })
	output.Logger.InfoContext(ctx, "Probe burst complete",
		"sent", sum.Sent,
		"succeeded", sum.Succeeded,
		"http_errors", sum.HTTPErrors,
		"connection_refused", sum.Errors[KindConnectionRefused],
		"timeouts", sum.Errors[KindTimeout],
		"other_errors", sum.Errors[KindOther],
		"p50_latency", sum.Percentile(0.5),
		"max_latency", sum.Percentile(1),
	)
	return sum, nil
}
