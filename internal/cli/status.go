package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dev-sys-do/sealboard/internal/controller"
	"github.com/dev-sys-do/sealboard/internal/pipeline"
	"github.com/dev-sys-do/sealboard/internal/query"
)

var statusCmd = &cobra.Command{
	Use:   "status [pipeline-id...]",
	Short: "Show pipelines and their aggregate status",
	Long: `Without arguments, list every pipeline with its aggregate status.
With pipeline ids, fetch each one and show its actions.

--watch keeps the list on screen and reprints it at the polling interval
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "text" && format != "json" {
			return fmt.Errorf("unknown format %q (want text or json)", format)
		}
		watch, _ := cmd.Flags().GetBool("watch")
		if watch && len(args) > 0 {
			return fmt.Errorf("--watch shows the pipeline list and takes no pipeline ids")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := validConfig(cfg); err != nil {
			return err
		}
		logger := newLogger(cmd, cfg)
		client, err := newClient(cfg, logger)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		ctx := cmd.Context()

		switch {
		case watch:
			cache := query.NewCache(
				query.WithLogger(logger),
				query.WithRequestTimeout(cfg.Controller.TimeoutDuration()),
			)
			defer cache.Close()

			sub := controller.PipelinesQuery(cache, client, true).Poll(cfg.Polling.IntervalDuration())
			defer sub.Cancel()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case res, ok := <-sub.Updates():
					if !ok {
						return nil
					}
					if err := printWatch(w, format, res); err != nil {
						return err
					}
				}
			}

		case len(args) == 0:
			pipelines, err := client.FetchPipelines(ctx, true)
			if err != nil {
				return err
			}
			return printPipelines(w, format, pipelines)

		default:
			ids := lo.Uniq(args)
			details := make([]*pipeline.Pipeline, len(ids))
			g, gctx := errgroup.WithContext(ctx)
			for i, id := range ids {
				i, id := i, id
				g.Go(func() error {
					p, err := client.FetchPipeline(gctx, id, true)
					if err != nil {
						return fmt.Errorf("pipeline %s: %w", id, err)
					}
					details[i] = p
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printDetails(w, format, details)
		}
	},
}

// pipelineView is a pipeline with its derived status, as printed in JSON.
type pipelineView struct {
	pipeline.Pipeline
	Status pipeline.Status `json:"status"`
}

func views(ps []pipeline.Pipeline) []pipelineView {
	return lo.Map(ps, func(p pipeline.Pipeline, _ int) pipelineView {
		return pipelineView{Pipeline: p, Status: p.Status()}
	})
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printPipelines(w io.Writer, format string, ps []pipeline.Pipeline) error {
	if format == "json" {
		return printJSON(w, views(ps))
	}
	if len(ps) == 0 {
		fmt.Fprintln(w, "No pipelines found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tACTIONS\tNAME\tREPOSITORY")
	for _, p := range ps {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", p.ID, p.Status().Label(), len(p.Actions), truncate(p.Name, 40), p.RepositoryURL)
	}
	return tw.Flush()
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printDetails(w io.Writer, format string, ps []*pipeline.Pipeline) error {
	if format == "json" {
		return printJSON(w, views(lo.FromSlicePtr(ps)))
	}
	for i, p := range ps {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Pipeline #%d  %s\n", p.ID, p.Name)
		fmt.Fprintf(w, "Repository: %s\n", p.RepositoryURL)
		fmt.Fprintf(w, "Status:     %s\n", p.Status().Label())
		if len(p.Actions) == 0 {
			fmt.Fprintln(w, "No actions.")
			continue
		}
		fmt.Fprintln(w)
		for _, a := range p.Actions {
			fmt.Fprintf(w, "  %s [%s] %s (%s)\n", a.Name, a.Status.Label(), a.ContainerURI, a.Type)
			for _, c := range a.Commands {
				fmt.Fprintf(w, "    $ %s\n", c)
			}
			for _, l := range a.Logs {
				fmt.Fprintf(w, "    | %s\n", l)
			}
		}
	}
	return nil
}

// printWatch prints one poll result: a failure line when the latest fetch
// failed, then the last good list if there is one.
func printWatch(w io.Writer, format string, res query.Result[[]pipeline.Pipeline]) error {
	if format == "json" {
		out := struct {
			Data      []pipelineView `json:"data"`
			Error     string         `json:"error,omitempty"`
			UpdatedAt time.Time      `json:"updated_at"`
		}{Data: views(res.Data), UpdatedAt: res.UpdatedAt}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "--- %s ---\n", res.UpdatedAt.Format(time.TimeOnly))
	if res.Err != nil {
		fmt.Fprintf(w, "error: %s\n", strings.TrimSpace(res.Err.Error()))
	}
	if !res.HasData {
		return nil
	}
	return printPipelines(w, "text", res.Data)
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
	statusCmd.Flags().Bool("watch", false, "Reprint the pipeline list at every polling interval")
}
