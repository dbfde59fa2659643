package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings required by the given pipeline mode are
// present and within range. All problems are reported in a single error.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "contamination":
		if c.Survey.LonColumn == "" || c.Survey.LatColumn == "" {
			errs = append(errs, "survey.lon_column and survey.lat_column are required")
		}
		if len(c.Contamination.BuffersM) == 0 {
			errs = append(errs, "contamination.buffers_m must not be empty")
		}
		for _, b := range c.Contamination.BuffersM {
			if b <= 0 {
				errs = append(errs, fmt.Sprintf("contamination.buffers_m values must be > 0 (got %g)", b))
				break
			}
		}
	case "publish":
		if c.PostGIS.DatabaseURL == "" {
			errs = append(errs, "postgis.database_url is required")
		}
	case "weather":
		switch c.Weather.Source {
		case "openmeteo":
			if c.Weather.BaseURL == "" {
				errs = append(errs, "weather.base_url is required for the openmeteo source")
			}
		case "geotiff":
			if c.Weather.StackDir == "" {
				errs = append(errs, "weather.stack_dir is required for the geotiff source")
			}
		default:
			errs = append(errs, fmt.Sprintf("weather.source must be openmeteo or geotiff (got %q)", c.Weather.Source))
		}
		if c.Weather.Scale <= 0 {
			errs = append(errs, "weather.scale must be > 0")
		}
		if c.Weather.GroupMonths < 1 || c.Weather.GroupMonths > 12 {
			errs = append(errs, "weather.group_months must be between 1 and 12")
		}
		if c.Weather.Concurrency < 1 || c.Weather.Concurrency > 16 {
			errs = append(errs, "weather.concurrency must be between 1 and 16")
		}
	case "worldpop":
		if c.WorldPop.Level < 0 || c.WorldPop.Level > 4 {
			errs = append(errs, "worldpop.level must be between 0 and 4")
		}
		if c.WorldPop.BaseURL == "" {
			errs = append(errs, "worldpop.base_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres (got %q)", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
