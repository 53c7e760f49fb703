package analyze

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/threatlink/internal/pipeline"
)

// Input formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// formatFor picks the decoder from the file extension; anything that is not
// .json is read as YAML.
func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// ReadRequests decodes a single document or a list of documents.
func ReadRequests(r io.Reader, format string) ([]*pipeline.AnalysisRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch format {
	case FormatJSON:
		if data[0] == '[' {
			var reqs []*pipeline.AnalysisRequest
			if err := json.Unmarshal(data, &reqs); err != nil {
				return nil, err
			}
			return reqs, nil
		}
		var req pipeline.AnalysisRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return []*pipeline.AnalysisRequest{&req}, nil

	case FormatYAML:
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, err
		}
		if len(root.Content) == 0 {
			return nil, nil
		}
		doc := root.Content[0]
		if doc.Kind == yaml.SequenceNode {
			var reqs []*pipeline.AnalysisRequest
			if err := doc.Decode(&reqs); err != nil {
				return nil, err
			}
			return reqs, nil
		}
		var req pipeline.AnalysisRequest
		if err := doc.Decode(&req); err != nil {
			return nil, err
		}
		return []*pipeline.AnalysisRequest{&req}, nil
	}
	return nil, fmt.Errorf("unsupported input format %q", format)
}

// LoadFiles reads every path in order. "-" reads stdin as stdinFormat.
func LoadFiles(paths []string, stdin io.Reader, stdinFormat string) ([]*pipeline.AnalysisRequest, error) {
	var all []*pipeline.AnalysisRequest
	for _, path := range paths {
		var (
			reqs []*pipeline.AnalysisRequest
			err  error
		)
		if path == "-" {
			reqs, err = ReadRequests(stdin, stdinFormat)
		} else {
			reqs, err = readFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, reqs...)
	}
	return all, nil
}

func readFile(path string) ([]*pipeline.AnalysisRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRequests(f, formatFor(path))
}
