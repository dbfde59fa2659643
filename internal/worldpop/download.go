// Package worldpop aggregates WorldPop age/sex population rasters to
// administrative boundaries.
package worldpop

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/fetcher"
)

// Years served by the Global_2015_2030 R2025A release.
const (
	MinYear = 2015
	MaxYear = 2030
)

// DefaultBaseURL is the WorldPop data host.
const DefaultBaseURL = "https://data.worldpop.org"

// ErrYearOutOfRange is returned for years outside MinYear..MaxYear.
var ErrYearOutOfRange = eris.New("worldpop: year out of range")

// ZipName is the age/sex structures archive of a country and year.
func ZipName(country string, year int) string {
	return fmt.Sprintf("%s_agesex_structures_%d_CN_100m_R2025A_v1.zip", strings.ToLower(country), year)
}

// DownloadURL returns the archive URL under base.
func DownloadURL(base, country string, year int) string {
	return fmt.Sprintf("%s/GIS/AgeSex_structures/Global_2015_2030/R2025A/%d/%s/v1/100m/%s",
		strings.TrimRight(base, "/"), year, strings.ToUpper(country), ZipName(country, year))
}

// Downloader fetches age/sex archives over HTTP(S) or FTP.
type Downloader struct {
	BaseURL string
	Country string
	Fetch   fetcher.Options
}

// Download stores the archive for year in dir and returns its path. Nothing
// is fetched when the archive is already present or rasters for the year
// exist anywhere under dir; the returned path may then not exist.
func (d *Downloader) Download(ctx context.Context, year int, dir string) (string, error) {
	if year < MinYear || year > MaxYear {
		return "", eris.Wrapf(ErrYearOutOfRange, "%d not in %d-%d", year, MinYear, MaxYear)
	}
	log := zap.L().With(zap.String("component", "worldpop.download"), zap.Int("year", year))

	base := d.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	country := d.Country
	if country == "" {
		country = "UKR"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "worldpop: create %s", dir)
	}
	out := filepath.Join(dir, ZipName(country, year))
	if fi, err := os.Stat(out); err == nil && fi.Size() > 0 {
		log.Info("worldpop: archive already downloaded", zap.String("path", out))
		return out, nil
	}
	tifs, err := yearRasters(dir, year)
	if err != nil {
		return "", err
	}
	if len(tifs) > 0 {
		log.Info("worldpop: rasters already extracted", zap.Int("rasters", len(tifs)))
		return out, nil
	}

	rawURL := DownloadURL(base, country, year)
	f, err := fetcher.ForURL(rawURL, d.Fetch)
	if err != nil {
		return "", eris.Wrap(err, "worldpop: download")
	}
	n, err := f.DownloadToFile(ctx, rawURL, out)
	if err != nil {
		return "", eris.Wrapf(err, "worldpop: download %s", rawURL)
	}
	log.Info("worldpop: download complete", zap.String("path", out), zap.Int64("bytes", n))
	return out, nil
}

// yearRasters lists **/*<year>*.tif under dir.
func yearRasters(dir string, year int) ([]string, error) {
	y := strconv.Itoa(year)
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if !d.IsDir() && strings.EqualFold(filepath.Ext(name), ".tif") && strings.Contains(name, y) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "worldpop: scan %s", dir)
	}
	return out, nil
}

// Extract unpacks zipPath into dir, or next to the archive in a directory
// named after it when dir is empty. It returns the directory used.
func Extract(zipPath, dir string) (string, error) {
	if dir == "" {
		dir = strings.TrimSuffix(zipPath, filepath.Ext(zipPath))
	}
	files, err := fetcher.ExtractZIP(zipPath, dir)
	if err != nil {
		return "", eris.Wrapf(err, "worldpop: extract %s", zipPath)
	}
	zap.L().Info("worldpop: extracted archive",
		zap.String("component", "worldpop.extract"),
		zap.String("dir", dir),
		zap.Int("files", len(files)),
	)
	return dir, nil
}
