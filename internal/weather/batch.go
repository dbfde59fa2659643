package weather

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exposure-cli/internal/model"
	"github.com/sells-group/exposure-cli/internal/store"
)

// BatchOptions configures ProcessRegion and ProcessBatch.
type BatchOptions struct {
	Source      Source
	Store       store.Store // optional task ledger
	StartYear   int
	EndYear     int
	GroupMonths int
	Hourly      bool
	Seasonal    bool
	GapFill     bool
	Scale       float64
	OutputDir   string
	Variables   []string
	Concurrency int
}

// Summary counts the exports of a batch.
type Summary struct {
	Completed int
	Failed    int
}

func (s *Summary) add(o Summary) {
	s.Completed += o.Completed
	s.Failed += o.Failed
}

// MonthGroups splits a year into consecutive groups of n months; the last
// group may be shorter.
func MonthGroups(n int) [][2]int {
	if n < 1 || n > 12 {
		n = 12
	}
	var out [][2]int
	for start := 1; start <= 12; start += n {
		out = append(out, [2]int{start, min(start+n-1, 12)})
	}
	return out
}

// ProcessRegion runs every export of region for each year and month group:
// seasonal first, then hourly. A failed export is logged and recorded in
// the ledger; the remaining exports still run. The region's own year range
// overrides the batch's when set.
func ProcessRegion(ctx context.Context, region *Region, opts BatchOptions) (Summary, error) {
	log := zap.L().With(zap.String("component", "weather.batch"), zap.String("region", region.Name))
	if len(region.Features) == 0 {
		if err := region.Load(); err != nil {
			return Summary{}, err
		}
	}
	startYear, endYear := opts.StartYear, opts.EndYear
	if region.StartYear > 0 {
		startYear = region.StartYear
	}
	if region.EndYear > 0 {
		endYear = region.EndYear
	}
	if startYear > endYear {
		return Summary{}, eris.Errorf("weather: region %s: start year %d after end year %d", region.Name, startYear, endYear)
	}

	groups := MonthGroups(opts.GroupMonths)
	log.Info("weather: processing region",
		zap.Int("start_year", startYear),
		zap.Int("end_year", endYear),
		zap.Int("month_groups", len(groups)),
	)

	var sum Summary
	for year := startYear; year <= endYear; year++ {
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return sum, eris.Wrap(err, "weather: batch cancelled")
			}
			eo := ExportOptions{
				Source:     opts.Source,
				Region:     region,
				Year:       year,
				StartMonth: g[0],
				EndMonth:   g[1],
				GapFill:    opts.GapFill,
				Scale:      opts.Scale,
				OutputDir:  opts.OutputDir,
				Variables:  opts.Variables,
			}
			if opts.Seasonal {
				sum.add(runExport(ctx, opts.Store, model.KindSeasonal, eo, ExportSeasonal))
			}
			if opts.Hourly {
				sum.add(runExport(ctx, opts.Store, model.KindHourly, eo, ExportHourly))
			}
		}
	}
	log.Info("weather: region complete", zap.Int("completed", sum.Completed), zap.Int("failed", sum.Failed))
	return sum, nil
}

type exportFunc func(context.Context, ExportOptions) (Result, error)

func runExport(ctx context.Context, st store.Store, kind model.TaskKind, eo ExportOptions, fn exportFunc) Summary {
	log := zap.L().With(
		zap.String("component", "weather.batch"),
		zap.String("region", eo.Region.Name),
		zap.String("kind", string(kind)),
		zap.Int("year", eo.Year),
		zap.Int("start_month", eo.StartMonth),
		zap.Int("end_month", eo.EndMonth),
	)

	var task *model.ExportTask
	if st != nil {
		name := HourlyFileName(eo.Region.Name, eo.Year, eo.StartMonth, eo.EndMonth)
		if kind == model.KindSeasonal {
			name = SeasonalFileName(eo.Region.Name, eo.Year, eo.StartMonth, eo.EndMonth)
		}
		var err error
		task, err = st.CreateTask(ctx, model.TaskSpec{
			Kind:        kind,
			Description: name,
			Region:      eo.Region.Name,
			Year:        eo.Year,
			StartMonth:  eo.StartMonth,
			EndMonth:    eo.EndMonth,
			Params: map[string]string{
				"gap_fill": strconv.FormatBool(eo.GapFill),
				"scale":    strconv.FormatFloat(eo.Scale, 'f', -1, 64),
			},
		})
		if err != nil {
			log.Error("weather: create ledger task failed", zap.Error(err))
		} else if err := st.StartTask(ctx, task.ID); err != nil {
			log.Error("weather: start ledger task failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}

	res, err := fn(ctx, eo)
	if err != nil {
		exportsTotal.WithLabelValues(string(kind), string(model.TaskFailed)).Inc()
		log.Error("weather: export failed", zap.Error(err))
		if task != nil {
			if ferr := st.FailTask(ctx, task.ID, err); ferr != nil {
				log.Error("weather: fail ledger task failed", zap.String("task_id", task.ID), zap.Error(ferr))
			}
		}
		return Summary{Failed: 1}
	}

	exportsTotal.WithLabelValues(string(kind), string(model.TaskCompleted)).Inc()
	if task != nil {
		if cerr := st.CompleteTask(ctx, task.ID, res.Rows, res.Path); cerr != nil {
			log.Error("weather: complete ledger task failed", zap.String("task_id", task.ID), zap.Error(cerr))
		}
	}
	return Summary{Completed: 1}
}

// ProcessBatch runs ProcessRegion for every region, at most
// opts.Concurrency at a time. Region load errors are returned after all
// regions have been attempted.
func ProcessBatch(ctx context.Context, regions []*Region, opts BatchOptions) (Summary, error) {
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	results := make([]Summary, len(regions))
	errs := make([]error, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, r := range regions {
		g.Go(func() error {
			results[i], errs[i] = ProcessRegion(gctx, r, opts)
			if errs[i] != nil {
				zap.L().Error("weather: region failed",
					zap.String("component", "weather.batch"),
					zap.String("region", r.Name),
					zap.Error(errs[i]),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	var total Summary
	var failed []string
	for i, s := range results {
		total.add(s)
		if errs[i] != nil {
			failed = append(failed, regions[i].Name)
		}
	}
	if len(failed) > 0 {
		return total, eris.Errorf("weather: %d region(s) failed: %v", len(failed), failed)
	}
	return total, nil
}
