// Package screener is SC: a two-stage filter over a symbol universe. Stage
// A is a cheap local score computed purely from indicators; Stage B is an
// optional LLM quick-score that degrades to a neutral fallback rather than
// stalling the pipeline when the provider fails.
package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/ratelimiter"
	"github.com/kosheflow/signal-orchestrator/internal/indicator"
	"github.com/kosheflow/signal-orchestrator/internal/llm"
	"github.com/kosheflow/signal-orchestrator/internal/logging"
	"github.com/kosheflow/signal-orchestrator/internal/marketdata"
)

// Candidate is one symbol's screening result after both stages.
type Candidate struct {
	Symbol      string
	LocalScore  float64
	LLMScore    float64 // 0-10, neutral fallback 5.0 on Stage B failure
	Trend       string
	Signals     []string
	Analysis    string
	StageBFailed bool
}

// Summary aggregates a screening run, handed back alongside the ranked
// candidate list.
type Summary struct {
	Total     int
	AvgScore  float64
	TopScore  float64
	Bullish   int
	Bearish   int
	Neutral   int
	Timeframe candle.Timeframe
	Timestamp time.Time
}

// Config controls Stage A's gate and Stage B's batching.
type Config struct {
	LocalScoreGate float64 // default 60
	BatchSize      int     // default 10
	BatchDelay     time.Duration
	MaxResults     int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{LocalScoreGate: 60, BatchSize: 10, BatchDelay: time.Second, MaxResults: 20}
}

// Screener is SC.
type Screener struct {
	mdf      *marketdata.Fetcher
	llm      *llm.Client
	llmLimit *ratelimiter.Limiter
	cfg      Config
}

// New builds a Screener. llmLimit must be the same process-wide LLM bucket
// shared with PP.
func New(mdf *marketdata.Fetcher, llmClient *llm.Client, llmLimit *ratelimiter.Limiter, cfg Config) *Screener {
	return &Screener{mdf: mdf, llm: llmClient, llmLimit: llmLimit, cfg: cfg}
}

// Run screens universe at (exchange, market, timeframe) and returns the
// ranked survivors above Stage A's gate, each carrying a Stage B quick
// score when the LLM is configured.
func (s *Screener) Run(ctx context.Context, universe []string, ex candle.Exchange, market candle.MarketType, tf candle.Timeframe) ([]Candidate, Summary, error) {
	log := logging.WithComponent("screener").WithField("timeframe", string(tf))

	stageA := s.runStageA(ctx, universe, ex, market, tf, log)
	if len(stageA) == 0 {
		return nil, summarize(nil, tf), nil
	}

	var survivors []Candidate
	if s.llm != nil && s.llm.IsConfigured() {
		survivors = s.runStageB(ctx, stageA, tf, log)
	} else {
		survivors = stageA
	}

	sortCandidates(survivors)
	if s.cfg.MaxResults > 0 && len(survivors) > s.cfg.MaxResults {
		survivors = survivors[:s.cfg.MaxResults]
	}
	return survivors, summarize(survivors, tf), nil
}

func (s *Screener) runStageA(ctx context.Context, universe []string, ex candle.Exchange, market candle.MarketType, tf candle.Timeframe, log *logging.Logger) []Candidate {
	gate := s.cfg.LocalScoreGate
	if gate == 0 {
		gate = DefaultConfig().LocalScoreGate
	}

	out := make([]Candidate, 0, len(universe))
	for _, symbol := range universe {
		window, err := s.mdf.Fetch(ctx, marketdata.Key{Exchange: ex, Market: market, Symbol: symbol, TF: tf}, 100)
		if err != nil {
			log.Warn("stage A fetch failed, skipping symbol", "symbol", symbol, "error", err)
			continue
		}
		score, trend := localScore(window)
		if score < gate {
			continue
		}
		out = append(out, Candidate{Symbol: symbol, LocalScore: score, Trend: trend})
	}
	return out
}

// localScore implements Stage A's documented weights: trend alignment 30,
// RSI zone 20, MACD 15, ADX 10, volume vs 20-SMA 15, short price action 10.
func localScore(w candle.Window) (float64, string) {
	summary := indicator.Compute(w)
	score := 0.0
	trend := "neutral"

	switch summary.Trend {
	case indicator.TrendUp:
		score += 30
		trend = "bullish"
	case indicator.TrendDown:
		score += 30
		trend = "bearish"
	}

	if summary.RSI >= 50 && summary.RSI <= 70 {
		score += 20
	} else if summary.RSI >= 30 && summary.RSI < 50 {
		score += 10
	}

	if summary.MACD.Histogram > 0 && trend == "bullish" {
		score += 15
	} else if summary.MACD.Histogram < 0 && trend == "bearish" {
		score += 15
	}

	if summary.ADX >= 25 {
		score += 10
	} else if summary.ADX >= 20 {
		score += 5
	}

	if summary.VolumeRatio >= 1.5 {
		score += 15
	} else if summary.VolumeRatio >= 1.0 {
		score += 7
	}

	if len(w) >= 3 {
		recent := w[len(w)-3:]
		if trend == "bullish" && recent[2].Close > recent[0].Close {
			score += 10
		} else if trend == "bearish" && recent[2].Close < recent[0].Close {
			score += 10
		}
	}

	return score, trend
}

// runStageB batches survivors through the LLM quick-score prompt, at most
// cfg.BatchSize in flight at once with a cfg.BatchDelay pause between
// batches so a universe of several hundred symbols still completes in
// bounded wall-clock time.
func (s *Screener) runStageB(ctx context.Context, candidates []Candidate, tf candle.Timeframe, log *logging.Logger) []Candidate {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	delay := s.cfg.BatchDelay
	if delay <= 0 {
		delay = DefaultConfig().BatchDelay
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	for start := 0; start < len(out); start += batchSize {
		end := start + batchSize
		if end > len(out) {
			end = len(out)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				out[idx] = s.quickScore(ctx, out[idx], log)
			}(i)
		}
		wg.Wait()

		if end < len(out) {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(delay):
			}
		}
	}
	return out
}

type quickScoreResponse struct {
	Score    float64  `json:"score"`
	Trend    string   `json:"trend"`
	Signals  []string `json:"signals"`
	Analysis string   `json:"analysis"`
}

var jsonBlockRE = regexp.MustCompile(`(?s)\{.*\}`)

func (s *Screener) quickScore(ctx context.Context, c Candidate, log *logging.Logger) Candidate {
	if err := s.llmLimit.Wait(ctx, ratelimiter.PriorityScheduledScreening); err != nil {
		return neutralFallback(c)
	}

	system := "Respond with a single JSON object only: {\"score\": 0-10, \"trend\": \"bullish|bearish|neutral\", \"signals\": [string], \"analysis\": string}."
	user := fmt.Sprintf("Symbol %s, local trend %s, local score %.1f/100. Give a quick trade-worthiness score.", c.Symbol, c.Trend, c.LocalScore)

	raw, err := s.llm.Complete(ctx, system, user)
	if err != nil {
		log.Warn("stage B quick score failed, using neutral fallback", "symbol", c.Symbol, "error", err)
		return neutralFallback(c)
	}

	block := jsonBlockRE.FindString(strings.TrimSpace(raw))
	if block == "" {
		return neutralFallback(c)
	}
	var resp quickScoreResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return neutralFallback(c)
	}

	c.LLMScore = resp.Score
	if resp.Trend != "" {
		c.Trend = resp.Trend
	}
	c.Signals = resp.Signals
	c.Analysis = resp.Analysis
	return c
}

func neutralFallback(c Candidate) Candidate {
	c.LLMScore = 5.0
	c.StageBFailed = true
	return c
}

// sortCandidates orders by score descending (LLM score when present,
// otherwise local score), ties broken by symbol ascending.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		si, sj := effectiveScore(cands[i]), effectiveScore(cands[j])
		if si != sj {
			return si > sj
		}
		return cands[i].Symbol < cands[j].Symbol
	})
}

func effectiveScore(c Candidate) float64 {
	if c.LLMScore > 0 {
		return c.LLMScore
	}
	return c.LocalScore
}

func summarize(cands []Candidate, tf candle.Timeframe) Summary {
	sum := Summary{Total: len(cands), Timeframe: tf, Timestamp: time.Now().UTC()}
	if len(cands) == 0 {
		return sum
	}
	total := 0.0
	for _, c := range cands {
		score := effectiveScore(c)
		total += score
		if score > sum.TopScore {
			sum.TopScore = score
		}
		switch strings.ToLower(c.Trend) {
		case "bullish":
			sum.Bullish++
		case "bearish":
			sum.Bearish++
		default:
			sum.Neutral++
		}
	}
	sum.AvgScore = total / float64(len(cands))
	return sum
}
