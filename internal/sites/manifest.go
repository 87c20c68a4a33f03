package sites

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/loqalabs/cyruss/internal/config"
	"gopkg.in/yaml.v3"
)

// Manifest is a standalone site table file:
//
//	sites:
//	  - name: youtube
//	    url: https://youtube.com
type Manifest struct {
	Sites []config.Site `yaml:"sites"`
}

// Load reads a site manifest from disk and validates it.
func Load(path string) ([]config.Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse site manifest: %w", err)
	}
	if len(m.Sites) == 0 {
		return nil, fmt.Errorf("site manifest %s declares no sites", path)
	}
	if err := Validate(m.Sites); err != nil {
		return nil, err
	}
	return m.Sites, nil
}

// Validate checks the table can be matched against transcribed speech. Names are compared with
// lower-cased commands, so they must be lower case themselves.
func Validate(table []config.Site) error {
	seen := make(map[string]struct{}, len(table))
	for i, site := range table {
		name := strings.TrimSpace(site.Name)
		if name == "" {
			return fmt.Errorf("sites[%d]: name is required", i)
		}
		if name != strings.ToLower(name) {
			return fmt.Errorf("sites[%d]: name %q must be lower case", i, site.Name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("sites[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		u, err := url.Parse(site.URL)
		if err != nil {
			return fmt.Errorf("sites[%d]: invalid url: %w", i, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sites[%d]: url %q must be absolute http or https", i, site.URL)
		}
	}
	return nil
}

// Resolve returns the table the process should use: the manifest named by cfg.SitesFile when
// set, otherwise cfg.Sites.
func Resolve(cfg config.Config) ([]config.Site, error) {
	if cfg.SitesFile != "" {
		return Load(cfg.SitesFile)
	}
	if err := Validate(cfg.Sites); err != nil {
		return nil, err
	}
	return cfg.Sites, nil
}
