package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/survey"
)

var (
	roiGroup  string
	roiOutDir string
	roiName   string
	roiRes    int
)

var roiCmd = &cobra.Command{
	Use:   "roi",
	Short: "Build region-of-interest files from survey households",
	Long:  "Writes buffered group centroids or covering H3 cells as GeoJSON, shapefile and WKT CSV, ready to use as weather regions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if cfg.Survey.LonColumn == "" || cfg.Survey.LatColumn == "" {
			return eris.New("roi: survey.lon_column and survey.lat_column are required")
		}
		return nil
	},
}

var roiBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Buffer the centroid of each household group",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		groups, err := survey.GroupCentroids(hhs, roiGroup)
		if err != nil {
			return err
		}
		roi, err := survey.BuildROI(groups, cfg.ROI.BufferM, cfg.ROI.Segments)
		if err != nil {
			return err
		}
		return writeROI(roi, roiName)
	},
}

var roiH3Cmd = &cobra.Command{
	Use:   "h3",
	Short: "Cover the households with H3 cells",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if roiRes < 0 || roiRes > 15 {
			return eris.Errorf("roi h3: resolution %d not in 0-15", roiRes)
		}
		hhs, err := loadHouseholds()
		if err != nil {
			return err
		}
		roi, err := survey.H3Cells(survey.H3Cover(hhs, roiRes))
		if err != nil {
			return err
		}
		return writeROI(roi, roiName+"_h3")
	},
}

func writeROI(roi *survey.ROI, name string) error {
	base := filepath.Join(roiOutDir, name)
	if err := roi.WriteGeoJSON(base + ".geojson"); err != nil {
		return err
	}
	if err := roi.WriteShapefile(base + ".shp"); err != nil {
		return err
	}
	if err := roi.WriteWKTCSV(base + "_wkt.csv"); err != nil {
		return err
	}
	zap.L().Info("wrote roi",
		zap.Int("areas", len(roi.Areas)),
		zap.String("columns", strings.Join(roi.Columns, ",")),
		zap.String("path", base+".geojson"),
	)
	return nil
}

func init() {
	roiCmd.PersistentFlags().StringVar(&roiOutDir, "out-dir", "data/roi", "output directory")
	roiCmd.PersistentFlags().StringVar(&roiName, "name", "roi", "output file base name")
	roiBuildCmd.Flags().StringVar(&roiGroup, "group", "", "household column to group by")
	_ = roiBuildCmd.MarkFlagRequired("group")
	roiH3Cmd.Flags().IntVar(&roiRes, "res", 6, "H3 resolution")

	roiCmd.AddCommand(roiBuildCmd, roiH3Cmd)
	rootCmd.AddCommand(roiCmd)
}
