package sources

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// configFile is the YAML document shape for a source roster.
type configFile struct {
	Sources []descriptorYAML `yaml:"sources"`
}

// descriptorYAML mirrors Descriptor with human-readable duration strings,
// since yaml.v3 does not decode "30s" into a time.Duration.
type descriptorYAML struct {
	ID          string            `yaml:"id"`
	DisplayName string            `yaml:"display-name"`
	Endpoint    string            `yaml:"endpoint"`
	Params      map[string]string `yaml:"params"`
	Timeout     string            `yaml:"timeout"`
	MaxRetries  int               `yaml:"max-retries"`
	BackoffBase string            `yaml:"backoff-base"`
}

func (dy descriptorYAML) descriptor() (Descriptor, error) {
	d := Descriptor{
		ID:          dy.ID,
		DisplayName: dy.DisplayName,
		Endpoint:    dy.Endpoint,
		Params:      dy.Params,
		MaxRetries:  dy.MaxRetries,
	}
	var err error
	if dy.Timeout != "" {
		d.Timeout, err = time.ParseDuration(dy.Timeout)
		if err != nil {
			return Descriptor{}, fmt.Errorf("source %s: bad timeout: %w", dy.ID, err)
		}
	}
	if dy.BackoffBase != "" {
		d.BackoffBase, err = time.ParseDuration(dy.BackoffBase)
		if err != nil {
			return Descriptor{}, fmt.Errorf("source %s: bad backoff-base: %w", dy.ID, err)
		}
	}
	return d, nil
}

// LoadConfig reads a source roster from YAML. Unset per-source bounds receive
// defaults when the registry is built.
//
// Document shape:
//
//	sources:
//	  - id: google
//	    display-name: Google Trends
//	    endpoint: /api/google-trends
//	    params:
//	      country: JP
//	    timeout: 30s
//	    max-retries: 2
//	    backoff-base: 500ms
func LoadConfig(r io.Reader) ([]Descriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var cf configFile
	if err = yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("cannot decode sources config: %w", err)
	}
	if len(cf.Sources) == 0 {
		return nil, fmt.Errorf("sources config defines no sources")
	}
	descs := make([]Descriptor, len(cf.Sources))
	for i, dy := range cf.Sources {
		descs[i], err = dy.descriptor()
		if err != nil {
			return nil, err
		}
	}
	return descs, nil
}

// LoadConfigFile reads a source roster from a YAML file.
func LoadConfigFile(path string) ([]Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadConfig(f)
}
