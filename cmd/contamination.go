package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/contamination"
	"github.com/sells-group/exposure-cli/internal/db"
	"github.com/sells-group/exposure-cli/internal/vector"
)

var contaminationCmd = &cobra.Command{
	Use:   "contamination",
	Short: "Household hazard exposure features",
	Long:  "Computes distances and counts between survey households and roads, healthcare facilities, mining sites and PM2.5 grids, then joins them into one table.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("contamination")
	},
}

// featureOutput is outputs/<name>/<name>.csv, the layout join expects.
func featureOutput(name string) string {
	return filepath.Join(cfg.Contamination.OutputDir, name, name+".csv")
}

var roadsCmd = &cobra.Command{
	Use:   "roads",
	Short: "Distance from each household to the nearest road",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		roads, err := vector.Read(cfg.Contamination.RoadsPath)
		if err != nil {
			return err
		}
		tbl, _, err := contamination.RoadDistances(hhs, roads)
		if err != nil {
			return err
		}
		return writeFeature("roads", tbl)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Distance from each household to the nearest hospital and clinic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		fc, err := vector.Read(cfg.Contamination.HealthcarePath)
		if err != nil {
			return err
		}
		tbl, err := contamination.HealthDistances(hhs, fc, cfg.Contamination.AmenityField, cfg.Contamination.Amenities)
		if err != nil {
			return err
		}
		return writeFeature("health", tbl)
	},
}

var miningCmd = &cobra.Command{
	Use:   "mining",
	Short: "Mining site counts within buffers and nearest distances per category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		fc, err := vector.Read(cfg.Contamination.MiningPath)
		if err != nil {
			return err
		}
		tbl, err := contamination.MiningExposure(hhs, fc, cfg.Contamination.CategoryField, cfg.Contamination.BuffersM)
		if err != nil {
			return err
		}
		return writeFeature("mining", tbl)
	},
}

var pm25Cmd = &cobra.Command{
	Use:   "pm25",
	Short: "Monthly PM2.5 at each household from NetCDF grids",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		files, err := contamination.ListPM25(cfg.Contamination.PM25Dir)
		if err != nil {
			return err
		}
		tbl, err := contamination.PM25(hhs, files, cfg.Contamination.PM25Variable)
		if err != nil {
			return err
		}
		return writeFeature("pm25", tbl)
	},
}

var clipRoadsCmd = &cobra.Command{
	Use:   "clip-roads",
	Short: "Keep the road features near any household",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		raw, err := vector.Read(cfg.Contamination.RawRoadsPath)
		if err != nil {
			return err
		}
		clipped := contamination.ClipRoads(hhs, raw, cfg.Contamination.ClipBufferM)
		if err := vector.WriteGeoJSON(cfg.Contamination.RoadsPath, clipped); err != nil {
			return err
		}
		zap.L().Info("clipped roads",
			zap.Int("input", len(raw.Features)),
			zap.Int("kept", len(clipped.Features)),
			zap.String("path", cfg.Contamination.RoadsPath),
		)
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Outer-join every feature table on the household id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		files, err := contamination.FeatureFiles(cfg.Contamination.OutputDir)
		if err != nil {
			return err
		}
		tbl, err := contamination.Join(files, cfg.Contamination.JoinKey)
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.Contamination.OutputDir, contamination.JoinedFile)
		if err := tbl.WriteCSV(path); err != nil {
			return err
		}
		zap.L().Info("joined feature tables",
			zap.Int("files", len(files)),
			zap.Int("rows", len(tbl.Rows)),
			zap.Int("columns", len(tbl.Header)),
			zap.String("path", path),
		)
		return nil
	},
}

var publishReplace bool

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upsert the joined table with household points into PostGIS",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("publish"); err != nil {
			return err
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		joined, err := contamination.ReadTable(filepath.Join(cfg.Contamination.OutputDir, contamination.JoinedFile))
		if err != nil {
			return eris.Wrap(err, "publish: run 'contamination join' first")
		}
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, cfg.PostGIS.DatabaseURL, 4)
		if err != nil {
			return err
		}
		defer pool.Close()

		n, err := contamination.Publish(ctx, pool, joined, hhs, contamination.PublishOptions{
			Schema:   cfg.PostGIS.Schema,
			Table:    cfg.Contamination.PublishTable,
			Key:      cfg.Contamination.JoinKey,
			BatchMax: cfg.Contamination.PublishBatchMax,
			Replace:  publishReplace,
		})
		if err != nil {
			return err
		}
		zap.L().Info("published contamination table",
			zap.String("table", cfg.PostGIS.Schema+"."+cfg.Contamination.PublishTable),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func writeFeature(name string, tbl *contamination.Table) error {
	path := featureOutput(name)
	if err := tbl.WriteCSV(path); err != nil {
		return err
	}
	zap.L().Info("wrote feature table",
		zap.String("feature", name),
		zap.Int("rows", len(tbl.Rows)),
		zap.String("path", path),
	)
	return nil
}

func init() {
	publishCmd.Flags().BoolVar(&publishReplace, "replace", false, "drop and recreate the table and reload it with COPY (required when hhid repeats)")
	contaminationCmd.AddCommand(roadsCmd, healthCmd, miningCmd, pm25Cmd, clipRoadsCmd, joinCmd, publishCmd)
	rootCmd.AddCommand(contaminationCmd)
}
