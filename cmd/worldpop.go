package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/fetcher"
	"github.com/sells-group/exposure-cli/internal/worldpop"
)

var (
	worldpopYear  int
	worldpopZip   string
	worldpopDir   string
	worldpopLevel int
)

var worldpopCmd = &cobra.Command{
	Use:   "worldpop",
	Short: "WorldPop age/sex population by admin unit",
	Long:  "Downloads WorldPop age/sex structure rasters, builds ADM3 and ADM4-with-outskirts boundaries, and aggregates population statistics per admin unit.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if cmd.Flags().Changed("level") {
			cfg.WorldPop.Level = worldpopLevel
		}
		return cfg.Validate("worldpop")
	},
}

func newDownloader() *worldpop.Downloader {
	return &worldpop.Downloader{
		BaseURL: cfg.WorldPop.BaseURL,
		Country: cfg.WorldPop.Country,
		Fetch: fetcher.Options{
			HTTP:     fetcher.HTTPOptions{Timeout: 30 * time.Minute},
			Progress: true,
		},
	}
}

func shapes() worldpop.Shapes {
	return worldpop.Shapes{Dir: cfg.WorldPop.ShapefileDir, Pattern: cfg.WorldPop.ShapefilePattern}
}

func yearDir() string {
	return filepath.Join(cfg.WorldPop.DataDir, strconv.Itoa(worldpopYear))
}

var worldpopDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the age/sex structures archive of a year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		path, err := newDownloader().Download(ctx, worldpopYear, yearDir())
		if err != nil {
			return err
		}
		zap.L().Info("worldpop archive ready", zap.String("path", path))
		return nil
	},
}

var worldpopExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a downloaded archive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		zip := worldpopZip
		if zip == "" {
			zip = filepath.Join(yearDir(), worldpop.ZipName(cfg.WorldPop.Country, worldpopYear))
		}
		dir := worldpopDir
		if dir == "" && worldpopZip == "" {
			dir = filepath.Join(yearDir(), "extracted")
		}
		_, err := worldpop.Extract(zip, dir)
		return err
	},
}

var worldpopShapesCmd = &cobra.Command{
	Use:   "shapes",
	Short: "Write the ADM3 and ADM4-with-outskirts boundary files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s := shapes()
		if _, _, err := s.CreateADM3(cfg.WorldPop.AOIDir); err != nil {
			return err
		}
		_, _, err := s.CreateADM4WithOutskirts(cfg.WorldPop.AOIDir)
		return err
	},
}

var worldpopAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate extracted rasters to admin units",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		zones, err := shapes().Zones(cfg.WorldPop.AOIDir, cfg.WorldPop.Level)
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		in := worldpopDir
		if in == "" {
			in = filepath.Join(yearDir(), "extracted")
		}
		sum, err := worldpop.Aggregate(ctx, worldpop.AggregateOptions{
			InputDir:    in,
			OutputDir:   cfg.WorldPop.OutputDir,
			Level:       cfg.WorldPop.Level,
			Zones:       zones,
			Clip:        cfg.WorldPop.Clip,
			Concurrency: cfg.WorldPop.Concurrency,
			Store:       st,
		})
		logAggregate(sum)
		return err
	},
}

var worldpopFixCSVCmd = &cobra.Command{
	Use:   "fix-csv",
	Short: "Swap sex and age group in totals rows of existing outputs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir := worldpopDir
		if dir == "" {
			dir = cfg.WorldPop.OutputDir
		}
		if _, err := os.Stat(dir); err != nil {
			return eris.Errorf("worldpop fix-csv: outputs directory not found: %s", dir)
		}
		results, err := worldpop.FixCSV(dir)
		if err != nil {
			return err
		}
		total := 0
		for _, r := range results {
			total += r.Fixed
		}
		zap.L().Info("fixed csv outputs", zap.Int("files", len(results)), zap.Int("rows", total))
		return nil
	},
}

var worldpopRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Download, extract and aggregate one year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := worldpop.Run(ctx, worldpop.RunOptions{
			Downloader:  newDownloader(),
			Shapes:      shapes(),
			Year:        worldpopYear,
			DataDir:     cfg.WorldPop.DataDir,
			AOIDir:      cfg.WorldPop.AOIDir,
			OutputDir:   cfg.WorldPop.OutputDir,
			Level:       cfg.WorldPop.Level,
			Clip:        cfg.WorldPop.Clip,
			Concurrency: cfg.WorldPop.Concurrency,
			Store:       st,
		})
		logAggregate(sum)
		return err
	},
}

func logAggregate(sum worldpop.AggregateSummary) {
	zap.L().Info("worldpop aggregation",
		zap.Int("written", sum.Written),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
}

func init() {
	worldpopCmd.PersistentFlags().IntVar(&worldpopYear, "year", 2020, "WorldPop year (2015-2030)")
	worldpopCmd.PersistentFlags().IntVar(&worldpopLevel, "level", 3, "admin level to aggregate to (overrides worldpop.level)")
	worldpopExtractCmd.Flags().StringVar(&worldpopZip, "zip", "", "archive to extract (default the year's download)")
	for _, c := range []*cobra.Command{worldpopExtractCmd, worldpopAggregateCmd, worldpopFixCSVCmd} {
		c.Flags().StringVar(&worldpopDir, "dir", "", "directory to extract to, aggregate from or fix")
	}

	worldpopCmd.AddCommand(worldpopDownloadCmd, worldpopExtractCmd, worldpopShapesCmd,
		worldpopAggregateCmd, worldpopFixCSVCmd, worldpopRunCmd)
	rootCmd.AddCommand(worldpopCmd)
}
