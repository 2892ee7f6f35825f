package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v3"

	"github.com/osmc/speedtest-osmc/speedtest"
	"github.com/osmc/speedtest-osmc/speedtest/control"
)

// options is the resolved command line configuration.
type options struct {
	List             bool
	CityList         bool
	ServerIDs        []string
	URL              string
	Bytes            bool
	Unit             string
	Mode             string
	Threads          int
	Duration         time.Duration
	ProgressEvery    int
	Limit            int
	ProbeConcurrency int
	Location         string
	Proxy            string
	Schedule         string
	JSON             bool
	CSV              bool
	CSVDelimiter     string
	CSVHeader        bool
	Unix             bool
	Debug            bool
	ConfigPath       string
}

// fileConfig mirrors the flags that may be preset in the YAML config file.
type fileConfig struct {
	Servers          []string      `yaml:"servers,omitempty"`
	URL              string        `yaml:"url,omitempty"`
	Unit             string        `yaml:"unit,omitempty"`
	Mode             string        `yaml:"mode,omitempty"`
	Threads          int           `yaml:"threads,omitempty"`
	Duration         time.Duration `yaml:"duration,omitempty"`
	ProgressEvery    int           `yaml:"progress_every,omitempty"`
	Limit            int           `yaml:"limit,omitempty"`
	ProbeConcurrency int           `yaml:"probe_concurrency,omitempty"`
	Location         string        `yaml:"location,omitempty"`
	Proxy            string        `yaml:"proxy,omitempty"`
	Schedule         string        `yaml:"schedule,omitempty"`
	CSVDelimiter     string        `yaml:"csv_delimiter,omitempty"`
	Unix             bool          `yaml:"unix,omitempty"`
	Debug            bool          `yaml:"debug,omitempty"`
}

const envPrefix = "SPEEDTEST_"

// newApp binds every flag to opts.
func newApp(opts *options) *kingpin.Application {
	app := kingpin.New("speedtest-osmc", "Command line interface for testing internet bandwidth using speedtest.net")
	app.Version(speedtest.Version)
	app.HelpFlag.Short('h')

	app.Flag("list", "Show the closest speedtest.net servers and exit.").Short('l').BoolVar(&opts.List)
	app.Flag("city-list", "List the predefined virtual locations and exit.").BoolVar(&opts.CityList)
	app.Flag("server", "Only consider these server ids, comma separated or repeated.").Short('s').StringsVar(&opts.ServerIDs)
	app.Flag("url", "Test against this URL instead of a discovered server.").Envar(envPrefix + "URL").StringVar(&opts.URL)
	app.Flag("bytes", "Display values in bytes instead of bits.").BoolVar(&opts.Bytes)
	app.Flag("unit", "Display unit.").Default("bits").EnumVar(&opts.Unit, speedtest.UnitNames()...)
	app.Flag("mode", "Download mode: sequential or concurrent. The --url mode defaults to concurrent.").EnumVar(&opts.Mode, "sequential", "concurrent", "threads")
	app.Flag("threads", "Concurrent download workers, overriding the server configuration.").Short('t').IntVar(&opts.Threads)
	app.Flag("duration", "Concurrent download duration, overriding the server configuration.").Short('d').DurationVar(&opts.Duration)
	app.Flag("progress-every", "Chunks read between two progress updates.").Default(fmt.Sprint(speedtest.DefaultReportEvery)).IntVar(&opts.ProgressEvery)
	app.Flag("limit", "Number of closest servers to probe or list.").Default("5").IntVar(&opts.Limit)
	app.Flag("probe-concurrency", "Servers probed at the same time.").Default("1").IntVar(&opts.ProbeConcurrency)
	app.Flag("location", "Test from a virtual location: a city name or \"lat,lon\".").Envar(envPrefix + "LOCATION").StringVar(&opts.Location)
	app.Flag("proxy", "Send requests through an http(s) or socks5 proxy URL.").Envar(envPrefix + "PROXY").StringVar(&opts.Proxy)
	app.Flag("schedule", "Repeat the test on a cron schedule, e.g. \"@every 1h\".").StringVar(&opts.Schedule)
	app.Flag("json", "Output the result as JSON.").BoolVar(&opts.JSON)
	app.Flag("csv", "Output the result as a CSV line.").BoolVar(&opts.CSV)
	app.Flag("csv-delimiter", "Single character CSV delimiter.").Default(",").StringVar(&opts.CSVDelimiter)
	app.Flag("csv-header", "Print the CSV header and exit.").BoolVar(&opts.CSVHeader)
	app.Flag("unix", "Plain line output without spinners.").BoolVar(&opts.Unix)
	app.Flag("debug", "Log requests and worker events to stderr.").Envar(envPrefix + "DEBUG").BoolVar(&opts.Debug)
	app.Flag("config", "YAML config file.").Short('c').Envar(envPrefix + "CONFIG").StringVar(&opts.ConfigPath)
	return app
}

// parseArgs parses the command line and returns the names of the flags the
// user set explicitly, either as arguments or through the environment.
func parseArgs(app *kingpin.Application, args []string) (map[string]bool, error) {
	pc, err := app.ParseContext(args)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, el := range pc.Elements {
		if flag, ok := el.Clause.(*kingpin.FlagClause); ok {
			set[flag.Model().Name] = true
		}
	}
	for _, flag := range app.Model().Flags {
		if flag.Envar != "" && os.Getenv(flag.Envar) != "" {
			set[flag.Name] = true
		}
	}

	if _, err = app.Parse(args); err != nil {
		return nil, err
	}
	return set, nil
}

func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "speedtest-osmc", "config.yaml")
}

// loadFileConfig reads path, or the default location when path is empty. A
// missing default file is not an error.
func loadFileConfig(path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return nil, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeOptions fills every flag the user did not set with the file's value.
func mergeOptions(flags options, file *fileConfig, set map[string]bool) options {
	if file == nil {
		return flags
	}
	merged := flags
	pickStrings(&merged.ServerIDs, file.Servers, set["server"])
	pick(&merged.URL, file.URL, set["url"])
	pick(&merged.Unit, file.Unit, set["unit"])
	pick(&merged.Mode, file.Mode, set["mode"])
	pick(&merged.Threads, file.Threads, set["threads"])
	pick(&merged.Duration, file.Duration, set["duration"])
	pick(&merged.ProgressEvery, file.ProgressEvery, set["progress-every"])
	pick(&merged.Limit, file.Limit, set["limit"])
	pick(&merged.ProbeConcurrency, file.ProbeConcurrency, set["probe-concurrency"])
	pick(&merged.Location, file.Location, set["location"])
	pick(&merged.Proxy, file.Proxy, set["proxy"])
	pick(&merged.Schedule, file.Schedule, set["schedule"])
	pick(&merged.CSVDelimiter, file.CSVDelimiter, set["csv-delimiter"])
	pick(&merged.Unix, file.Unix, set["unix"])
	pick(&merged.Debug, file.Debug, set["debug"])
	return merged
}

func pick[T comparable](dst *T, fromFile T, setByUser bool) {
	var zero T
	if !setByUser && fromFile != zero {
		*dst = fromFile
	}
}

func pickStrings(dst *[]string, fromFile []string, setByUser bool) {
	if !setByUser && len(fromFile) > 0 {
		*dst = fromFile
	}
}

// unitType resolves --bytes and --unit; --bytes wins.
func (o options) unitType() (speedtest.UnitType, error) {
	if o.Bytes {
		return speedtest.UnitTypeDecimalBytes, nil
	}
	return speedtest.ParseUnitType(o.Unit)
}

func (o options) delimiter() (rune, error) {
	r := []rune(o.CSVDelimiter)
	if len(r) != 1 {
		return 0, fmt.Errorf("csv delimiter must be a single character, got %q", o.CSVDelimiter)
	}
	return r[0], nil
}

// mode picks the download mode; a fixed --url defaults to concurrent.
func (o options) mode() control.Mode {
	if o.Mode == "" && o.URL != "" {
		return control.ModeConcurrent
	}
	return control.ParseMode(o.Mode)
}
