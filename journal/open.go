package journal

import "fmt"

type Config struct {
	// Type is "csv", "sqlite" or "none".
	Type   string `json:"type" yaml:"type"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

func (c Config) Validate() error {
	switch c.Type {
	case "", "none":
	case "csv":
		if c.Dir == "" {
			return fmt.Errorf("journal: dir required for csv type")
		}
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("journal: db_path required for sqlite type")
		}
	default:
		return fmt.Errorf("journal: type must be 'csv', 'sqlite' or 'none', got %q", c.Type)
	}
	return nil
}

// Open builds the journal described by cfg. An empty type means Nop.
func Open(cfg Config) (Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "csv":
		return NewCSV(cfg.Dir)
	case "sqlite":
		return NewSQLite(cfg.DBPath)
	default:
		return Nop{}, nil
	}
}
