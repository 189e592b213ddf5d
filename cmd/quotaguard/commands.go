package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ineyio/quotaguard"
	"github.com/ineyio/quotaguard/chunk"
	"github.com/ineyio/quotaguard/meter"
)

// StatusCmd prints capacity snapshots.
type StatusCmd struct {
	JSON bool `help:"Print JSON instead of a table."`
}

type metricView struct {
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type backendView struct {
	Backend     quotaguard.BackendID  `json:"backend"`
	CanAdmit    bool                  `json:"can_admit"`
	Utilization float64               `json:"utilization_percent"`
	LastUsedAt  *time.Time            `json:"last_used_at,omitempty"`
	Metrics     map[string]metricView `json:"metrics"`
}

type statusView struct {
	Backends []backendView          `json:"backends"`
	Search   quotaguard.SearchStatus `json:"search"`
}

func newBackendView(s quotaguard.CapacitySnapshot) backendView {
	v := backendView{
		Backend:     s.Backend,
		CanAdmit:    s.CanAdmit,
		Utilization: s.Utilization,
		Metrics:     make(map[string]metricView, len(quotaguard.Metrics())),
	}
	if !s.LastUsedAt.IsZero() {
		t := s.LastUsedAt
		v.LastUsedAt = &t
	}
	for _, m := range quotaguard.Metrics() {
		mc := s.Metrics[m]
		v.Metrics[m.String()] = metricView{Current: mc.Current, Limit: mc.Limit, Remaining: mc.Remaining, ResetAt: mc.ResetAt}
	}
	return v
}

func (c *StatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	snaps, statusErr := a.limiter.StatusAll(ctx)
	search, err := a.search.Status(ctx)
	if err != nil {
		statusErr = errors.Join(statusErr, err)
	}

	view := statusView{Search: search}
	for _, s := range snaps {
		view.Backends = append(view.Backends, newBackendView(s))
	}

	if c.JSON {
		enc := json.NewEncoder(cli.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			return err
		}
		return statusErr
	}

	printStatus(cli.Out, view)
	return statusErr
}

func printStatus(out io.Writer, view statusView) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tRPM\tTPM\tRPD\tUTIL\tADMIT\tLAST USED")
	for _, b := range view.Backends {
		last := "-"
		if b.LastUsedAt != nil {
			last = b.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%t\t%s\n",
			b.Backend,
			usageCell(b.Metrics["rpm"]),
			usageCell(b.Metrics["tpm"]),
			usageCell(b.Metrics["rpd"]),
			b.Utilization,
			b.CanAdmit,
			last,
		)
	}
	tw.Flush()

	s := view.Search
	fmt.Fprintf(out, "\nsearch %s: %d/%d used, available=%t, resets %s\n",
		s.Month, s.Used, s.Quota, s.Available, s.ResetAt.Format("2006-01-02"))
}

func usageCell(m metricView) string {
	return fmt.Sprintf("%d/%d", m.Current, m.Limit)
}

// InitCmd creates missing counters.
type InitCmd struct{}

func (c *InitCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.limiter.Initialize(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cli.Out, "initialized %d backends\n", len(a.limiter.Backends()))
	return nil
}

// ResetCmd deletes backend counters.
type ResetCmd struct {
	Backends []string `arg:"" optional:"" help:"Backends to reset (default: all)."`
}

func (c *ResetCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ids := make([]quotaguard.BackendID, len(c.Backends))
	for i, b := range c.Backends {
		ids[i] = quotaguard.BackendID(b)
	}
	if err := a.limiter.Reset(ctx, ids...); err != nil {
		return err
	}
	if len(ids) == 0 {
		ids = a.limiter.Backends()
	}
	fmt.Fprintf(cli.Out, "reset %v\n", ids)
	return nil
}

// ResetSearchCmd deletes the search counter of the current month.
type ResetSearchCmd struct{}

func (c *ResetSearchCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.search.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.Out, "search counter reset")
	return nil
}

// SplitCmd splits text the way answers are delivered.
type SplitCmd struct {
	File  string `arg:"" optional:"" type:"existingfile" help:"Input file (default: stdin)."`
	Max   int    `help:"Maximum chunk length in characters." default:"2000"`
	Plain bool   `help:"Do not append (i/total) suffixes."`
}

func (c *SplitCmd) Run(cli *CLI) error {
	var (
		data []byte
		err  error
	)
	if c.File != "" {
		data, err = os.ReadFile(c.File)
	} else {
		data, err = io.ReadAll(cli.In)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var chunks []string
	if c.Plain {
		chunks = chunk.Collect(string(data), c.Max)
	} else {
		chunks = chunk.Paginate(string(data), c.Max)
	}
	for i, ch := range chunks {
		fmt.Fprintf(cli.Out, "--- chunk %d/%d (%d chars)\n%s\n", i+1, len(chunks), utf8.RuneCountInString(ch), ch)
	}
	return nil
}

// MetricsCmd serves capacity gauges until interrupted.
type MetricsCmd struct {
	Addr string `help:"Listen address." default:":9090"`
}

func (c *MetricsCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		meter.NewCapacityCollector(a.limiter, a.search),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: c.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("serving metrics", "addr", c.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
