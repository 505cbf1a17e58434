package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/storage"
	"github.com/chainexport/csvstore/store"
	"github.com/chainexport/csvstore/table"
	"github.com/chainexport/csvstore/types"
	"github.com/chainexport/csvstore/util"
)

// SampleConfig is the annotated config written by the init command.
//
//go:embed csvstore.yml.example
var SampleConfig string

// Column is one entry of a table's columns mapping.
type Column struct {
	Name string
	Type string
}

// Columns keeps the order of a YAML mapping of column name to type name.
type Columns []Column

// UnmarshalYAML reads the mapping node by node so the column order of the
// file is preserved.
func (c *Columns) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: columns must be a mapping of column name to type", value.Line)
	}
	cols := make(Columns, 0, len(value.Content)/2)
	seen := make(map[string]bool, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: column entries must be name: type", k.Line)
		}
		if seen[k.Value] {
			return fmt.Errorf("line %d: duplicate column %s", k.Line, k.Value)
		}
		seen[k.Value] = true
		cols = append(cols, Column{Name: k.Value, Type: v.Value})
	}
	*c = cols
	return nil
}

// MarshalYAML writes the columns back as an ordered mapping.
func (c Columns) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, col := range c {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: col.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: col.Type})
	}
	return node, nil
}

// TableConfig registers one table.
type TableConfig struct {
	Name    string  `yaml:"name"`
	Columns Columns `yaml:"columns"`
}

// ImporterConfig configures the JSON-lines importer.
type ImporterConfig struct {
	// Window is the number of heights grouped into one Transact call.
	Window int64 `yaml:"window"`
}

// APIConfig configures the status server.
type APIConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

// Config is the content of csvstore.yml.
type Config struct {
	// DataDir is the directory the file was loaded from.
	DataDir string `yaml:"-"`

	LogLevel    string `yaml:"log-level"`
	LogFile     string `yaml:"log-file"`
	PIDFilePath string `yaml:"pid-filepath"`

	Destination    string            `yaml:"destination"`
	S3             storage.S3Options `yaml:"s3"`
	Extension      string            `yaml:"extension"`
	Encoding       string            `yaml:"encoding"`
	FlushThreshold int               `yaml:"flush-threshold"`
	Retries        int               `yaml:"retries"`
	Dialect        table.Dialect     `yaml:"dialect"`

	Importer ImporterConfig `yaml:"importer"`
	API      APIConfig      `yaml:"api"`
	Tables   []TableConfig  `yaml:"tables"`
}

// Default returns the values used for keys missing from the file.
func Default() Config {
	return Config{
		LogLevel:       log.InfoLevel.String(),
		Destination:    "output",
		Extension:      store.DefaultExtension,
		Encoding:       string(charset.UTF8),
		FlushThreshold: store.DefaultFlushThreshold,
		Retries:        store.DefaultRetries,
		Dialect:        table.DefaultDialect,
		Importer:       ImporterConfig{Window: 100},
		API:            APIConfig{Addr: ":8981", Metrics: true},
	}
}

// Parse decodes a config file over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("Parse(): mal-formed yaml: %w", err)
	}
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("Parse(): %w", err)
	}
	return &cfg, nil
}

// Load finds and parses the config file in dataDir.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		return nil, errors.New("Load(): supplied data directory was empty")
	}
	if !util.IsDir(dataDir) {
		return nil, fmt.Errorf("Load(): supplied data directory (%s) was not valid", dataDir)
	}
	path, err := util.GetConfigFromDataDir(dataDir, FileName, FileTypes[:])
	if err != nil {
		return nil, fmt.Errorf("Load(): %w", err)
	}
	if path == "" {
		return nil, fmt.Errorf("Load(): could not find %s in data directory (%s)", DefaultConfigName, dataDir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load(): reading config error: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Load(): config file (%s): %w", path, err)
	}
	cfg.DataDir = dataDir
	return cfg, nil
}

// Valid validates the configuration.
func (cfg *Config) Valid() error {
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("Config.Valid(): log level (%s) was invalid: %w", cfg.LogLevel, err)
	}
	if strings.TrimSpace(cfg.Destination) == "" {
		return errors.New("Config.Valid(): destination was empty")
	}
	if cfg.Extension == "" {
		return errors.New("Config.Valid(): extension was empty")
	}
	if _, err := charset.Parse(cfg.Encoding); err != nil {
		return fmt.Errorf("Config.Valid(): %w", err)
	}
	if err := cfg.Dialect.Validate(); err != nil {
		return fmt.Errorf("Config.Valid(): %w", err)
	}
	if cfg.Importer.Window <= 0 {
		return fmt.Errorf("Config.Valid(): importer window (%d) must be positive", cfg.Importer.Window)
	}
	if _, err := cfg.BuildTables(); err != nil {
		return fmt.Errorf("Config.Valid(): %w", err)
	}
	return nil
}

// BuildTables turns the tables section into schemas.
func (cfg *Config) BuildTables() ([]*table.Table, error) {
	if len(cfg.Tables) == 0 {
		return nil, errors.New("no tables configured")
	}
	tables := make([]*table.Table, 0, len(cfg.Tables))
	for _, tc := range cfg.Tables {
		cols := make([]table.Column, 0, len(tc.Columns))
		for _, c := range tc.Columns {
			typ, err := types.Parse(c.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s: column %s: %w", tc.Name, c.Name, err)
			}
			cols = append(cols, table.Column{Name: c.Name, Type: typ})
		}
		t, err := table.New(tc.Name, cols...)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// ResolvedDestination returns the destination with a relative local path
// joined to the data directory.
func (cfg *Config) ResolvedDestination() string {
	u, err := storage.ParseDestination(cfg.Destination)
	if err != nil || u.Scheme != storage.LocalScheme || filepath.IsAbs(u.Path) || cfg.DataDir == "" {
		return cfg.Destination
	}
	return filepath.Join(cfg.DataDir, u.Path)
}

// StorageOptions returns the options passed to storage.Open.
func (cfg *Config) StorageOptions(logger *log.Logger) storage.Options {
	return storage.Options{S3: cfg.S3, Logger: logger}
}

// DatabaseOptions returns the options passed to store.NewDatabase.
func (cfg *Config) DatabaseOptions(logger *log.Logger) (store.Options, error) {
	tables, err := cfg.BuildTables()
	if err != nil {
		return store.Options{}, err
	}
	enc, err := charset.Parse(cfg.Encoding)
	if err != nil {
		return store.Options{}, err
	}
	retries := cfg.Retries
	if retries == 0 {
		// zero in the file means no retries, not the library default
		retries = -1
	}
	return store.Options{
		Tables:         tables,
		Dialect:        cfg.Dialect,
		Encoding:       enc,
		Extension:      cfg.Extension,
		FlushThreshold: cfg.FlushThreshold,
		Retries:        retries,
		Logger:         logger,
	}, nil
}
