package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/codalotl/intentbench/internal/types"
)

//go:embed summary.schema.json
var summarySchemaJSON string

var summarySchema = mustCompileSchema(summarySchemaJSON, "summary.schema.json")

var schemaPrinter = message.NewPrinter(language.English)

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// SerializationError reports a failure to produce or persist a summary artifact.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("serialize summary: %v", e.Err)
	}
	return fmt.Sprintf("serialize summary %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ToStructured converts ranked metrics into the persisted summary shape.
// Accuracy and Brier score are rounded to 4 decimals, durations to 2.
func ToStructured(ranked []types.ModelMetrics, winner string, at time.Time) types.Summary {
	models := make([]types.ModelMetrics, 0, len(ranked))
	for _, m := range ranked {
		out := m
		out.Accuracy = round(m.Accuracy, 4)
		out.BrierScore = round(m.BrierScore, 4)
		out.AvgDurationSec = round(m.AvgDurationSec, 2)
		if len(m.ByCategory) > 0 {
			out.ByCategory = make(map[string]types.CategoryMetrics, len(m.ByCategory))
			for label, c := range m.ByCategory {
				c.Accuracy = round(c.Accuracy, 4)
				c.BrierScore = round(c.BrierScore, 4)
				c.AvgDurationSec = round(c.AvgDurationSec, 2)
				out.ByCategory[label] = c
			}
		}
		models = append(models, out)
	}
	return types.Summary{
		Winner:      winner,
		Models:      models,
		GeneratedAt: at.UTC(),
	}
}

// ValidateSummary checks an encoded summary against the embedded schema and
// returns one message per violation.
func ValidateSummary(data []byte) []string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}
	err = summarySchema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}

// WriteJSON encodes the summary, validates it, and writes it to w.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r.Summary, "", "  ")
	if err != nil {
		return &SerializationError{Err: err}
	}
	if errs := ValidateSummary(data); len(errs) > 0 {
		return &SerializationError{Err: fmt.Errorf("summary does not match schema: %s", strings.Join(errs, "; "))}
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return &SerializationError{Err: err}
	}
	return nil
}

// Artifact file names written by WriteArtifacts.
const (
	SummaryJSONFile     = "summary.json"
	SummaryTextFile     = "summary.txt"
	SummaryCSVFile      = "summary.csv"
	SummaryMarkdownFile = "summary.md"
	SummaryHTMLFile     = "summary.html"
)

// WriteArtifacts writes every summary format into dir, creating it if needed.
// It returns the written paths in a fixed order.
func (r *Report) WriteArtifacts(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &SerializationError{Path: dir, Err: err}
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{SummaryJSONFile, r.WriteJSON},
		{SummaryTextFile, r.WriteText},
		{SummaryCSVFile, r.WriteCSV},
		{SummaryMarkdownFile, func(w io.Writer) error {
			_, err := io.WriteString(w, r.Markdown())
			return err
		}},
		{SummaryHTMLFile, r.WriteHTML},
	}

	var paths []string
	for _, wr := range writers {
		path := filepath.Join(dir, wr.name)
		var buf bytes.Buffer
		if err := wr.write(&buf); err != nil {
			var se *SerializationError
			if errors.As(err, &se) {
				se.Path = path
				return paths, se
			}
			return paths, &SerializationError{Path: path, Err: err}
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return paths, &SerializationError{Path: path, Err: err}
		}
		paths = append(paths, path)
	}
	return paths, nil
}
