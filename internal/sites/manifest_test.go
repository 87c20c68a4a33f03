package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/cyruss/internal/config"
)

const validYAML = `sites:
  - name: youtube
    url: https://youtube.com
  - name: news
    url: https://news.ycombinator.com
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidManifest(t *testing.T) {
	table, err := Load(writeManifest(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(table) != 2 || table[0].Name != "youtube" || table[1].URL != "https://news.ycombinator.com" {
		t.Fatalf("unexpected table %+v", table)
	}
}

func TestLoadEmptyManifest(t *testing.T) {
	if _, err := Load(writeManifest(t, "sites: []\n")); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string][]config.Site{
		"blank name": {{Name: " ", URL: "https://a.com"}},
		"upper case": {{Name: "YouTube", URL: "https://youtube.com"}},
		"duplicate":  {{Name: "a", URL: "https://a.com"}, {Name: "a", URL: "https://b.com"}},
		"scheme":     {{Name: "a", URL: "file:///etc/passwd"}},
		"relative":   {{Name: "a", URL: "/path"}},
	}
	for name, table := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate(table); err == nil {
				t.Fatalf("expected error for %+v", table)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := config.Default()
	table, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve defaults: %v", err)
	}
	if len(table) != len(config.DefaultSites()) {
		t.Fatalf("expected default table, got %+v", table)
	}

	cfg.SitesFile = writeManifest(t, validYAML)
	table, err = Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve file: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("expected manifest table, got %+v", table)
	}
}
