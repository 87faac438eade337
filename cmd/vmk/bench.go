package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"text/tabwriter"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/vm"
)

// benchResult is the timing of one strategy.
type benchResult struct {
	Strategy string
	Runs     int
	Total    time.Duration
	Steps    uint64
	Result   vm.Result
}

// NsPerRun returns the mean wall time of one run.
func (b benchResult) NsPerRun() float64 {
	return float64(b.Total.Nanoseconds()) / float64(b.Runs)
}

// NsPerStep returns the mean wall time of one dispatched instruction.
func (b benchResult) NsPerStep() float64 {
	if b.Steps == 0 {
		return 0
	}
	return b.NsPerRun() / float64(b.Steps)
}

func newBenchCmd(g *globals) *cobra.Command {
	var (
		runs  int
		chart string
	)
	cmd := &cobra.Command{
		Use:   "bench [file.vimg|file.vasm]",
		Short: "Time a program on every strategy and check they agree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.programPath(args)
			if err != nil {
				return err
			}
			f, err := g.factory()
			if err != nil {
				return err
			}
			img, err := loadImage(f, path)
			if err != nil {
				return err
			}

			results, err := benchmark(f, img, runs)
			if err != nil {
				return err
			}
			writeBenchTable(cmd.OutOrStdout(), results)

			if chart != "" {
				if err := writeBenchChart(chart, img.Name, results); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "chart written to %s\n", chart)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&runs, "runs", "n", 1000, "Runs per strategy")
	cmd.Flags().StringVar(&chart, "chart", "", "Write an HTML bar chart of the timings to this path")
	return cmd
}

// benchmark runs img on every strategy. Every strategy must end in the
// same state; a mismatch is reported with both contexts dumped.
func benchmark(f *vm.Factory, img *image.Image, runs int) ([]benchResult, error) {
	if runs < 1 {
		return nil, fmt.Errorf("runs must be positive, got %d", runs)
	}

	var results []benchResult
	for _, name := range f.Strategies() {
		e, err := f.Create(name)
		if err != nil {
			return nil, err
		}

		ref := e.RunWith(img.Code, 0, img.Locals)
		if len(results) > 0 {
			if err := sameOutcome(results[0], name, ref); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		for i := 0; i < runs; i++ {
			e.RunWith(img.Code, 0, img.Locals)
		}
		results = append(results, benchResult{
			Strategy: name,
			Runs:     runs,
			Total:    time.Since(start),
			Steps:    ref.Context.Steps,
			Result:   ref,
		})
	}
	return results, nil
}

func sameOutcome(want benchResult, name string, got vm.Result) error {
	w := want.Result
	if w.Reason == got.Reason && w.Offset == got.Offset &&
		reflect.DeepEqual(w.Context.Snapshot(), got.Context.Snapshot()) {
		return nil
	}
	return fmt.Errorf("strategies disagree:\n%s: %s at %d\n%s\n%s: %s at %d\n%s",
		want.Strategy, w.Reason, w.Offset, spew.Sdump(w.Context.Snapshot()),
		name, got.Reason, got.Offset, spew.Sdump(got.Context.Snapshot()))
}

func writeBenchTable(w io.Writer, results []benchResult) {
	if len(results) > 0 {
		r := results[0].Result
		fmt.Fprintf(w, "outcome: %s at offset %d, %d steps\n\n", r.Reason, r.Offset, r.Context.Steps)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "strategy\truns\tns/run\tns/step\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%.0f\t%.2f\t\n", r.Strategy, r.Runs, r.NsPerRun(), r.NsPerStep())
	}
	tw.Flush()
}

// writeBenchChart renders the timings as an HTML bar chart.
func writeBenchChart(path, name string, results []benchResult) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Dispatch strategies",
			Subtitle: name,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	labels := make([]string, len(results))
	perRun := make([]opts.BarData, len(results))
	perStep := make([]opts.BarData, len(results))
	for i, r := range results {
		labels[i] = r.Strategy
		perRun[i] = opts.BarData{Value: r.NsPerRun()}
		perStep[i] = opts.BarData{Value: r.NsPerStep()}
	}
	bar.SetXAxis(labels).
		AddSeries("ns/run", perRun).
		AddSeries("ns/step", perStep)

	page := components.NewPage()
	page.AddCharts(bar)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return page.Render(out)
}
