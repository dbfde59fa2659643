package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/model"
	"github.com/sells-group/exposure-cli/internal/store"
	"github.com/sells-group/exposure-cli/internal/weather"
)

var (
	weatherRegions     []string
	weatherYear        int
	weatherStartMonth  int
	weatherEndMonth    int
	weatherStartYear   int
	weatherEndYear     int
	weatherMetricsFile string
	concatISO3         string
	tasksStatus        string
	tasksRegion        string
	tasksKind          string
	tasksLimit         int
	tasksFormat        string
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "ERA5-Land hourly and seasonal exposure by region",
	Long:  "Extracts gap-filled ERA5-Land hourly means and seasonal statistics for every zone of the configured regions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("weather")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if weatherMetricsFile != "" {
			if err := weather.WriteMetrics(weatherMetricsFile); err != nil {
				zap.L().Warn("write metrics failed", zap.String("path", weatherMetricsFile), zap.Error(err))
			}
		}
		_ = zap.L().Sync()
	},
}

// newWeatherSource builds the configured ERA5-Land source.
func newWeatherSource() (weather.Source, error) {
	switch cfg.Weather.Source {
	case "geotiff":
		return weather.NewGeoTIFFStack(cfg.Weather.StackDir, cfg.Weather.Variables, 0)
	default:
		return weather.NewOpenMeteo(weather.OpenMeteoOptions{
			BaseURL:    cfg.Weather.BaseURL,
			APIKey:     cfg.Weather.APIKey,
			CacheDir:   cfg.Weather.CacheDir,
			MaxPoints:  cfg.Weather.MaxPoints,
			RatePerSec: cfg.Weather.RatePerSec,
			Timeout:    time.Duration(cfg.Weather.TimeoutSecs) * time.Second,
		})
	}
}

func weatherOutputDir() string {
	return filepath.Join(cfg.Weather.OutputDir, cfg.Weather.Folder)
}

// selectRegions loads the catalog and keeps the named regions, or all of
// them when names is empty.
func selectRegions(names []string) ([]*weather.Region, error) {
	all, err := weather.LoadCatalog(cfg.Weather.RegionsFile)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}
	out := make([]*weather.Region, 0, len(names))
	for _, n := range names {
		r, ok := weather.Find(all, n)
		if !ok {
			return nil, eris.Errorf("weather: region %q not in %s", n, cfg.Weather.RegionsFile)
		}
		out = append(out, r)
	}
	return out, nil
}

// singleExport runs one hourly or seasonal export per selected region.
func singleExport(cmd *cobra.Command, fn func(*cobra.Command, weather.ExportOptions) (weather.Result, error)) error {
	src, err := newWeatherSource()
	if err != nil {
		return err
	}
	regions, err := selectRegions(weatherRegions)
	if err != nil {
		return err
	}
	for _, r := range regions {
		if err := r.Load(); err != nil {
			return err
		}
		res, err := fn(cmd, weather.ExportOptions{
			Source:     src,
			Region:     r,
			Year:       weatherYear,
			StartMonth: weatherStartMonth,
			EndMonth:   weatherEndMonth,
			GapFill:    cfg.Weather.GapFill,
			Scale:      cfg.Weather.Scale,
			OutputDir:  weatherOutputDir(),
			Variables:  cfg.Weather.Variables,
		})
		if err != nil {
			return err
		}
		zap.L().Info("export written", zap.String("region", r.Name), zap.String("path", res.Path), zap.Int("rows", res.Rows))
	}
	return nil
}

var weatherHourlyCmd = &cobra.Command{
	Use:   "hourly",
	Short: "Export hourly zone means for one year and month range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return singleExport(cmd, func(cmd *cobra.Command, o weather.ExportOptions) (weather.Result, error) {
			ctx, stop := signalContext(cmd)
			defer stop()
			return weather.ExportHourly(ctx, o)
		})
	},
}

var weatherSeasonalCmd = &cobra.Command{
	Use:   "seasonal",
	Short: "Export seasonal zone statistics for one year and month range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return singleExport(cmd, func(cmd *cobra.Command, o weather.ExportOptions) (weather.Result, error) {
			ctx, stop := signalContext(cmd)
			defer stop()
			return weather.ExportSeasonal(ctx, o)
		})
	},
}

var weatherBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every export of the selected regions over a year range",
	Long:  "Runs seasonal then hourly exports for each region, year and month group. Each export is recorded in the task ledger; failures are logged and the batch continues.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		src, err := newWeatherSource()
		if err != nil {
			return err
		}
		regions, err := selectRegions(weatherRegions)
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := weather.ProcessBatch(ctx, regions, weather.BatchOptions{
			Source:      src,
			Store:       st,
			StartYear:   weatherStartYear,
			EndYear:     weatherEndYear,
			GroupMonths: cfg.Weather.GroupMonths,
			Hourly:      cfg.Weather.ExportHourly,
			Seasonal:    cfg.Weather.ExportSeason,
			GapFill:     cfg.Weather.GapFill,
			Scale:       cfg.Weather.Scale,
			OutputDir:   weatherOutputDir(),
			Variables:   cfg.Weather.Variables,
			Concurrency: cfg.Weather.Concurrency,
		})
		zap.L().Info("weather batch complete",
			zap.Int("regions", len(regions)),
			zap.Int("completed", sum.Completed),
			zap.Int("failed", sum.Failed),
		)
		return err
	},
}

var weatherConcatCmd = &cobra.Command{
	Use:   "concat",
	Short: "Merge a country's hourly exports over a year range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		task, err := st.CreateTask(ctx, model.TaskSpec{
			Kind:        model.KindConcat,
			Description: weather.ConcatFileName(concatISO3, weatherStartYear, weatherEndYear),
			Region:      concatISO3,
			Year:        weatherEndYear,
			Params:      map[string]string{"start_year": strconv.Itoa(weatherStartYear)},
		})
		if err != nil {
			return err
		}
		if err := st.StartTask(ctx, task.ID); err != nil {
			return err
		}

		res, err := weather.Concat(weatherOutputDir(), concatISO3, weatherStartYear, weatherEndYear)
		if err != nil {
			_ = st.FailTask(ctx, task.ID, err)
			return err
		}
		if err := st.CompleteTask(ctx, task.ID, res.Rows, res.Path); err != nil {
			return err
		}
		zap.L().Info("concatenated hourly exports",
			zap.String("path", res.Path),
			zap.Int("files", len(res.Files)),
			zap.Int("rows", res.Rows),
		)
		return nil
	},
}

var weatherTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List export tasks from the ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		filter := store.TaskFilter{
			Status: model.TaskStatus(tasksStatus),
			Region: tasksRegion,
			Kind:   model.TaskKind(tasksKind),
			Limit:  tasksLimit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("weather tasks: unknown status %q", tasksStatus)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tasks, err := st.ListTasks(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "weather tasks")
		}
		if tasksFormat == "csv" {
			return writeTasksCSV(os.Stdout, tasks)
		}
		if len(tasks) == 0 {
			zap.L().Info("no export tasks found")
			return nil
		}
		formatTasks(os.Stdout, tasks)
		return nil
	},
}

// taskRow is the CSV layout of a ledger task.
type taskRow struct {
	ID          string `csv:"id"`
	Kind        string `csv:"kind"`
	Region      string `csv:"region"`
	Year        int    `csv:"year"`
	StartMonth  int    `csv:"start_month"`
	EndMonth    int    `csv:"end_month"`
	Status      string `csv:"status"`
	Rows        int    `csv:"rows"`
	OutputPath  string `csv:"output_path"`
	Error       string `csv:"error"`
	Description string `csv:"description"`
	UpdatedAt   string `csv:"updated_at"`
}

func writeTasksCSV(out io.Writer, tasks []model.ExportTask) error {
	rows := make([]taskRow, len(tasks))
	for i, t := range tasks {
		rows[i] = taskRow{
			ID:          t.ID,
			Kind:        string(t.Kind),
			Region:      t.Region,
			Year:        t.Year,
			StartMonth:  t.StartMonth,
			EndMonth:    t.EndMonth,
			Status:      string(t.Status),
			Rows:        t.Rows,
			OutputPath:  t.OutputPath,
			Error:       t.Error,
			Description: t.Description,
			UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return gocsv.Marshal(&rows, out)
}

// formatTasks writes a tabular representation of ledger tasks to out.
func formatTasks(out io.Writer, tasks []model.ExportTask) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tREGION\tYEAR\tMONTHS\tSTATUS\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t------\t------\t----\t-----")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%02d-%02d\t%s\t%d\t%s\n",
			truncateID(t.ID),
			t.Kind,
			t.Region,
			t.Year,
			t.StartMonth,
			t.EndMonth,
			t.Status,
			t.Rows,
			truncate(t.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	weatherCmd.PersistentFlags().StringSliceVar(&weatherRegions, "region", nil, "region names from the regions file (default all)")
	weatherCmd.PersistentFlags().StringVar(&weatherMetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	for _, c := range []*cobra.Command{weatherHourlyCmd, weatherSeasonalCmd} {
		c.Flags().IntVar(&weatherYear, "year", time.Now().Year()-1, "export year")
		c.Flags().IntVar(&weatherStartMonth, "start-month", 1, "first month")
		c.Flags().IntVar(&weatherEndMonth, "end-month", 12, "last month")
	}
	for _, c := range []*cobra.Command{weatherBatchCmd, weatherConcatCmd} {
		c.Flags().IntVar(&weatherStartYear, "start-year", 2015, "first year")
		c.Flags().IntVar(&weatherEndYear, "end-year", 2024, "last year")
	}
	weatherConcatCmd.Flags().StringVar(&concatISO3, "iso3", "", "country code in the export file names")
	_ = weatherConcatCmd.MarkFlagRequired("iso3")

	weatherTasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status (queued, running, completed, failed)")
	weatherTasksCmd.Flags().StringVar(&tasksRegion, "task-region", "", "filter by region")
	weatherTasksCmd.Flags().StringVar(&tasksKind, "kind", "", "filter by kind (hourly, seasonal, concat, aggregate)")
	weatherTasksCmd.Flags().IntVar(&tasksLimit, "limit", 50, "maximum tasks to list")
	weatherTasksCmd.Flags().StringVar(&tasksFormat, "format", "table", "output format (table or csv)")

	weatherCmd.AddCommand(weatherHourlyCmd, weatherSeasonalCmd, weatherBatchCmd, weatherConcatCmd, weatherTasksCmd)
	rootCmd.AddCommand(weatherCmd)
}
