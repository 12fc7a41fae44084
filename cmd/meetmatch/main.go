package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meetmatch/internal/config"
	"meetmatch/internal/corpus"
	"meetmatch/internal/domain"
	"meetmatch/internal/llm"
	"meetmatch/internal/llm/local"
	"meetmatch/internal/llm/openai"
	"meetmatch/internal/logging"
	"meetmatch/internal/service"
	"meetmatch/internal/session"
	"meetmatch/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath     string
		csvPath     string
		query       string
		profileFile string
		k           int
		direction   string
		extra       string
		style       string
		outDir      string
		useTUI      bool
		metricsAddr string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/meetmatch/config.yaml if not provided)")
	flag.StringVar(&csvPath, "csv", "", "Attendee CSV export (overrides corpus.csv.path)")
	flag.StringVar(&query, "query", "", "Your name as it appears in the attendee list")
	flag.StringVar(&profileFile, "profile-file", "", "File holding your profile text, used instead of --query")
	flag.IntVar(&k, "k", 0, "Number of recommendations (default from config)")
	flag.StringVar(&direction, "direction", "get_value", "get_value, give_value or both")
	flag.StringVar(&extra, "context", "", "Additional context about what you are looking for")
	flag.StringVar(&style, "style", "long", "Output style: long, short or both")
	flag.StringVar(&outDir, "out", "", "Write timestamped .md and .txt files to this directory")
	flag.BoolVar(&useTUI, "tui", false, "Start the interactive terminal UI")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Debug().Str("path", cfgPath).Str("model", cfg.Model.Type).Msg("config loaded")

	if csvPath == "" {
		csvPath = cfg.Corpus.CSV.Path
	}
	if csvPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: meetmatch --csv attendees.csv [--query \"First Last\" | --profile-file me.txt] [--direction get_value|give_value|both] [--tui]")
		os.Exit(1)
	}
	dir, err := parseDirection(direction)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid --direction")
	}
	styles, err := parseStyles(style)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid --style")
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	client, err := buildClient(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("model client init failed")
	}

	records, err := corpus.ReadFile(csvPath, corpus.Layout{
		SkipRows:    cfg.Corpus.CSV.SkipRows,
		NameColumns: cfg.Corpus.CSV.NameColumns,
		LinkColumn:  cfg.Corpus.CSV.LinkColumn,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("corpus load failed")
	}
	sess := session.New(records)
	defer sess.Close()

	opts := service.OptionsFromConfig(cfg)
	opts.Progress = func(d domain.Direction, done, total int) {
		logging.Info().Str("direction", string(d)).Msgf("scored %d/%d pre-screen batches", done, total)
	}
	rec := service.NewRecommender(client, opts)
	req := service.Request{Query: query, K: k, Direction: dir, AdditionalContext: extra}
	if profileFile != "" {
		data, err := os.ReadFile(profileFile)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to read profile file")
		}
		req.ProfileText = string(data)
	}

	if useTUI || (req.Query == "" && req.ProfileText == "") {
		if dir == "" {
			req.Direction = domain.DirectionGetValue
		}
		summary := fmt.Sprintf("%d attendees loaded from %s (%d skipped) · model: %s", sess.Report.Loaded, csvPath, sess.Report.Skipped, client.Name())
		m := tui.New(tui.NewPort(rec, sess), req, summary)
		if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
			logging.Fatal().Err(err).Msg("tui failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var docs []document
	if dir == "" {
		both, err := rec.RecommendBoth(ctx, sess, req)
		if err != nil {
			exitWithError(err)
		}
		docs = renderBoth(both, styles)
		logNotes(both.GetValue)
		logNotes(both.GiveValue)
	} else {
		res, err := rec.Recommend(ctx, sess, req)
		if err != nil {
			exitWithError(err)
		}
		docs = renderOne(res, styles, "")
		logNotes(res)
	}

	if outDir == "" {
		for i, d := range docs {
			if i > 0 {
				fmt.Println()
			}
			fmt.Print(d.content)
		}
		return
	}
	name := req.Query
	if name == "" {
		name = "manual_profile"
	}
	paths, err := writeDocuments(outDir, name, time.Now(), docs)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to write output")
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

// buildClient assembles the configured model backend behind an optional
// circuit breaker.
func buildClient(cfg *config.AppConfig) (domain.ModelClient, error) {
	var client domain.ModelClient
	switch cfg.Model.Type {
	case "local", "":
		client = local.NewClient(cfg.Model.Local.Seed)
	case "openai":
		if cfg.Model.OpenAI == nil {
			return nil, errors.New("openai model config missing")
		}
		o := cfg.Model.OpenAI
		c, err := openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Azure:             o.Azure,
			APIVersion:        o.APIVersion,
			MaxTokens:         o.MaxTokens,
			MaxRetries:        o.MaxRetries,
			RequestsPerSecond: o.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown model type: %s", cfg.Model.Type)
	}
	if b := cfg.Model.Breaker; b.Enabled {
		client = llm.NewBreakerClient(client, llm.BreakerSettings{
			MinRequests:  b.MinRequests,
			FailureRatio: b.FailureRatio,
			OpenTimeout:  time.Duration(b.OpenTimeoutSecs) * time.Second,
		})
	}
	return client, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logging.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error().Err(err).Msg("metrics server stopped")
	}
}

// parseDirection returns "" for both.
func parseDirection(s string) (domain.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "get", "get_value":
		return domain.DirectionGetValue, nil
	case "give", "give_value":
		return domain.DirectionGiveValue, nil
	case "both":
		return "", nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func logNotes(res *service.Result) {
	for _, n := range res.Diagnostics.Notes {
		logging.Warn().Str("direction", string(res.Direction)).Msg(n)
	}
}

func exitWithError(err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Fprintf(os.Stderr, "%v\nUse --profile-file to paste your profile instead.\n", err)
	case errors.Is(err, domain.ErrAllGenerationsFailed):
		fmt.Fprintln(os.Stderr, "Recommendations unavailable, retry.")
		logging.Error().Err(err).Msg("generation failed")
	default:
		logging.Error().Err(err).Msg("recommend failed")
	}
	os.Exit(1)
}
