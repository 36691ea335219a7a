package config

import (
	"strings"
	"testing"

	"cryptdrive.io/errors"
)

func TestDefaultConfig(t *testing.T) {
	c := Default()
	if c.APIURL == "" || c.Packing == "" || c.UserAgent == "" {
		t.Fatalf("Default() left required fields empty: %+v", c)
	}
}

func TestFromReaderOverridesDefaults(t *testing.T) {
	yaml := `
apiurl: https://staging.example.com/
appkey: test-app-key
downloadworkers: 8
`
	c, err := FromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	if c.APIURL != "https://staging.example.com/" {
		t.Fatalf("APIURL = %q, want override", c.APIURL)
	}
	if c.AppKey != "test-app-key" {
		t.Fatalf("AppKey = %q, want test-app-key", c.AppKey)
	}
	if c.DownloadWorkers != 8 {
		t.Fatalf("DownloadWorkers = %d, want 8", c.DownloadWorkers)
	}
	if c.Packing != PackingAES128 {
		t.Fatalf("Packing should keep its default when unset, got %q", c.Packing)
	}
}

func TestFromReaderRejectsMalformedYAML(t *testing.T) {
	if _, err := FromReader(strings.NewReader("not: valid: yaml: [")); err == nil {
		t.Fatalf("expected an error for malformed YAML")
	}
}

func TestFromFileMissingReturnsNotExist(t *testing.T) {
	_, err := FromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
	if !errors.Match(errors.NotExist, err) {
		t.Fatalf("FromFile error = %v, want a NotExist error", err)
	}
}
