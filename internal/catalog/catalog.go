// Package catalog holds the static list of DOL datasets that is rendered into
// the system prompt, so the model can pick an agency and endpoint without a
// discovery round-trip.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed datasets.json
var defaultDatasets []byte

// Dataset describes one queryable DOL dataset.
type Dataset struct {
	Name        string   `json:"name" yaml:"name"`
	Agency      string   `json:"agency" yaml:"agency"`
	Endpoint    string   `json:"endpoint" yaml:"endpoint"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags" yaml:"tags"`
}

// Default returns the catalog compiled into the binary.
func Default() ([]Dataset, error) {
	var ds []Dataset
	if err := json.Unmarshal(defaultDatasets, &ds); err != nil {
		return nil, fmt.Errorf("parsing embedded catalog: %w", err)
	}
	return ds, nil
}

// Load reads a catalog file. YAML is used for .yaml/.yml files, JSON
// otherwise. An empty path returns the embedded catalog.
func Load(path string) ([]Dataset, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var ds []Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &ds)
	default:
		err = json.Unmarshal(data, &ds)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	for i, d := range ds {
		if d.Agency == "" || d.Endpoint == "" {
			return nil, fmt.Errorf("catalog %s: entry %d is missing agency or endpoint", path, i)
		}
	}
	return ds, nil
}

// Header precedes the dataset lines in Render's output.
const Header = "## Available DOL Datasets\n\nFormat: agency/endpoint|name|description|tags\n\n"

var (
	fieldEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")
	tagEscaper   = strings.NewReplacer(`\`, `\\`, "|", `\|`, ",", `\,`, "\r\n", " ", "\n", " ", "\r", " ")
)

// Render formats datasets one per line as agency/endpoint|name|description|tags.
// Delimiters inside fields are backslash-escaped so every line carries exactly
// three unescaped pipes. The output depends only on the input.
func Render(datasets []Dataset) string {
	var b strings.Builder
	b.WriteString(Header)

	for _, d := range datasets {
		tags := make([]string, len(d.Tags))
		for i, t := range d.Tags {
			tags[i] = tagEscaper.Replace(t)
		}

		b.WriteString(fieldEscaper.Replace(d.Agency))
		b.WriteByte('/')
		b.WriteString(fieldEscaper.Replace(d.Endpoint))
		b.WriteByte('|')
		b.WriteString(fieldEscaper.Replace(d.Name))
		b.WriteByte('|')
		b.WriteString(fieldEscaper.Replace(d.Description))
		b.WriteByte('|')
		b.WriteString(strings.Join(tags, ","))
		b.WriteByte('\n')
	}

	return b.String()
}
