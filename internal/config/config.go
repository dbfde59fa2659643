package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	PostGIS       PostGISConfig       `yaml:"postgis" mapstructure:"postgis"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Survey        SurveyConfig        `yaml:"survey" mapstructure:"survey"`
	Contamination ContaminationConfig `yaml:"contamination" mapstructure:"contamination"`
	Weather       WeatherConfig       `yaml:"weather" mapstructure:"weather"`
	WorldPop      WorldPopConfig      `yaml:"worldpop" mapstructure:"worldpop"`
	ROI           ROIConfig           `yaml:"roi" mapstructure:"roi"`
}

// StoreConfig configures the export task ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PostGISConfig configures the optional PostGIS sink for joined feature tables.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// SurveyConfig describes how household survey files are read.
type SurveyConfig struct {
	Path      string   `yaml:"path" mapstructure:"path"`
	IDColumn  string   `yaml:"id_column" mapstructure:"id_column"`
	LonColumn string   `yaml:"lon_column" mapstructure:"lon_column"`
	LatColumn string   `yaml:"lat_column" mapstructure:"lat_column"`
	DropIDs   []string `yaml:"drop_ids" mapstructure:"drop_ids"`
	Sheet     string   `yaml:"sheet" mapstructure:"sheet"`
}

// ContaminationConfig configures the household hazard feature pipeline.
type ContaminationConfig struct {
	RoadsPath       string    `yaml:"roads_path" mapstructure:"roads_path"`
	RawRoadsPath    string    `yaml:"raw_roads_path" mapstructure:"raw_roads_path"`
	HealthcarePath  string    `yaml:"healthcare_path" mapstructure:"healthcare_path"`
	MiningPath      string    `yaml:"mining_path" mapstructure:"mining_path"`
	PM25Dir         string    `yaml:"pm25_dir" mapstructure:"pm25_dir"`
	PM25Variable    string    `yaml:"pm25_variable" mapstructure:"pm25_variable"`
	OutputDir       string    `yaml:"output_dir" mapstructure:"output_dir"`
	Amenities       []string  `yaml:"amenities" mapstructure:"amenities"`
	BuffersM        []float64 `yaml:"buffers_m" mapstructure:"buffers_m"`
	ClipBufferM     float64   `yaml:"clip_buffer_m" mapstructure:"clip_buffer_m"`
	CategoryField   string    `yaml:"category_field" mapstructure:"category_field"`
	AmenityField    string    `yaml:"amenity_field" mapstructure:"amenity_field"`
	JoinKey         string    `yaml:"join_key" mapstructure:"join_key"`
	BufferSegments  int       `yaml:"buffer_segments" mapstructure:"buffer_segments"`
	PublishTable    string    `yaml:"publish_table" mapstructure:"publish_table"`
	PublishBatchMax int       `yaml:"publish_batch_max" mapstructure:"publish_batch_max"`
}

// WeatherConfig configures the ERA5-Land extraction pipeline.
type WeatherConfig struct {
	Source       string   `yaml:"source" mapstructure:"source"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	APIKey       string   `yaml:"api_key" mapstructure:"api_key"`
	StackDir     string   `yaml:"stack_dir" mapstructure:"stack_dir"`
	CacheDir     string   `yaml:"cache_dir" mapstructure:"cache_dir"`
	OutputDir    string   `yaml:"output_dir" mapstructure:"output_dir"`
	Folder       string   `yaml:"folder" mapstructure:"folder"`
	RegionsFile  string   `yaml:"regions_file" mapstructure:"regions_file"`
	Variables    []string `yaml:"variables" mapstructure:"variables"`
	Scale        float64  `yaml:"scale" mapstructure:"scale"`
	GapFill      bool     `yaml:"gap_fill" mapstructure:"gap_fill"`
	GroupMonths  int      `yaml:"group_months" mapstructure:"group_months"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxPoints    int      `yaml:"max_points" mapstructure:"max_points"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ExportHourly bool     `yaml:"export_hourly" mapstructure:"export_hourly"`
	ExportSeason bool     `yaml:"export_seasonal" mapstructure:"export_seasonal"`
}

// WorldPopConfig configures the WorldPop age/sex aggregation pipeline.
type WorldPopConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Country          string `yaml:"country" mapstructure:"country"`
	DataDir          string `yaml:"data_dir" mapstructure:"data_dir"`
	ShapefileDir     string `yaml:"shapefile_dir" mapstructure:"shapefile_dir"`
	ShapefilePattern string `yaml:"shapefile_pattern" mapstructure:"shapefile_pattern"`
	AOIDir           string `yaml:"aoi_dir" mapstructure:"aoi_dir"`
	OutputDir        string `yaml:"output_dir" mapstructure:"output_dir"`
	Level            int    `yaml:"level" mapstructure:"level"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	Clip             bool   `yaml:"clip" mapstructure:"clip"`
}

// ROIConfig configures region-of-interest construction from survey points.
type ROIConfig struct {
	BufferM  float64 `yaml:"buffer_m" mapstructure:"buffer_m"`
	Segments int     `yaml:"segments" mapstructure:"segments"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; variables already set in the process win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXPOSURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "exposure.db")
	v.SetDefault("postgis.database_url", "")
	v.SetDefault("postgis.schema", "exposure")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("survey.path", "data/hhs/l2idn_gps_b2.csv")
	v.SetDefault("survey.id_column", "hhid")
	v.SetDefault("survey.lon_column", "longitude")
	v.SetDefault("survey.lat_column", "latitude")
	v.SetDefault("survey.drop_ids", []string{})
	v.SetDefault("survey.sheet", "")
	v.SetDefault("contamination.roads_path", "data/roads/roads.geojson")
	v.SetDefault("contamination.raw_roads_path", "data/roads/heigit_idn_roadsurface_lines.geojson")
	v.SetDefault("contamination.healthcare_path", "data/health/healthcare.geojson")
	v.SetDefault("contamination.mining_path", "data/mining/mining.geojson")
	v.SetDefault("contamination.pm25_dir", "data/pm25/stlouis/2023")
	v.SetDefault("contamination.pm25_variable", "GWRPM25")
	v.SetDefault("contamination.output_dir", "outputs")
	v.SetDefault("contamination.amenities", []string{"hospital", "clinic"})
	v.SetDefault("contamination.buffers_m", []float64{1000, 3000, 5000, 10000})
	v.SetDefault("contamination.clip_buffer_m", 1000)
	v.SetDefault("contamination.category_field", "category")
	v.SetDefault("contamination.amenity_field", "amenity")
	v.SetDefault("contamination.join_key", "hhid")
	v.SetDefault("contamination.buffer_segments", 64)
	v.SetDefault("contamination.publish_table", "contamination")
	v.SetDefault("contamination.publish_batch_max", 50000)
	v.SetDefault("weather.source", "openmeteo")
	v.SetDefault("weather.base_url", "https://archive-api.open-meteo.com/v1/archive")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.stack_dir", "data/era5")
	v.SetDefault("weather.cache_dir", "data/cache/openmeteo")
	v.SetDefault("weather.output_dir", "exports")
	v.SetDefault("weather.folder", "GEE_WEATHER_EXPORTS")
	v.SetDefault("weather.regions_file", "regions.yaml")
	v.SetDefault("weather.scale", 9000)
	v.SetDefault("weather.gap_fill", true)
	v.SetDefault("weather.group_months", 3)
	v.SetDefault("weather.concurrency", 2)
	v.SetDefault("weather.rate_per_sec", 5)
	v.SetDefault("weather.max_points", 100)
	v.SetDefault("weather.timeout_secs", 120)
	v.SetDefault("weather.export_hourly", true)
	v.SetDefault("weather.export_seasonal", true)
	v.SetDefault("worldpop.base_url", "https://data.worldpop.org")
	v.SetDefault("worldpop.country", "UKR")
	v.SetDefault("worldpop.data_dir", "data/worldpop")
	v.SetDefault("worldpop.shapefile_dir", "data/shapefiles")
	v.SetDefault("worldpop.shapefile_pattern", "ukr_admbnda_adm%d_sspe_20230201.shp")
	v.SetDefault("worldpop.aoi_dir", "data/aoi")
	v.SetDefault("worldpop.output_dir", "data/outputs")
	v.SetDefault("worldpop.level", 3)
	v.SetDefault("worldpop.concurrency", 2)
	v.SetDefault("worldpop.clip", false)
	v.SetDefault("roi.buffer_m", 50000)
	v.SetDefault("roi.segments", 64)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
