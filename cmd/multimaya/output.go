package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"gopkg.in/yaml.v3"

	"github.com/theodox/multimaya"
)

// resultDocument is the json and yaml form of a Result.
type resultDocument struct {
	Target   string            `json:"target" yaml:"target"`
	Mode     string            `json:"mode" yaml:"mode"`
	ExitCode int               `json:"exit_code" yaml:"exit_code"`
	Output   string            `json:"output,omitempty" yaml:"output,omitempty"`
	Entries  []multimaya.Entry `json:"entries" yaml:"entries"`
}

func newResultDocument(res *multimaya.Result) resultDocument {
	return resultDocument{
		Target:   res.Target.String(),
		Mode:     string(res.Mode),
		ExitCode: res.ExitCode,
		Output:   res.Output,
		Entries:  plainEntries(res.Entries()),
	}
}

// newFailedDocument reports the task outcomes of a pool run whose workers raised.
func newFailedDocument(childErr *multimaya.ChildError) resultDocument {
	return resultDocument{
		Target:   childErr.Target.String(),
		Mode:     string(childErr.Mode),
		ExitCode: childErr.ExitCode,
		Entries:  plainEntries(childErr.Tasks),
	}
}

func plainEntries(entries []multimaya.Entry) []multimaya.Entry {
	for i := range entries {
		entries[i].Value = plainValue(entries[i].Value)
	}
	return entries
}

func writeResult(w io.Writer, format string, res *multimaya.Result) error {
	if format != "text" {
		return writeDocument(w, format, newResultDocument(res))
	}
	if res.Output != "" {
		fmt.Fprint(w, res.Output)
	}
	if !res.HasPayload {
		return nil
	}
	writeEntries(w, res.Entries())
	return nil
}

// writeTaskFailure prints every task outcome of a failed pool run.
func writeTaskFailure(w io.Writer, format string, childErr *multimaya.ChildError) error {
	if format != "text" {
		return writeDocument(w, format, newFailedDocument(childErr))
	}
	writeEntries(w, childErr.Tasks)
	return nil
}

func writeDocument(w io.Writer, format string, doc resultDocument) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// writeEntries prints one value per line; failed tasks go to the console
// with their full traceback and cause chain.
func writeEntries(w io.Writer, entries []multimaya.Entry) {
	for _, e := range entries {
		if e.Exception != nil {
			console.Error(fmt.Sprintf("task %d: %s: %s", e.Index, e.Exception.Exception, e.Exception.Message))
			console.Block(e.Exception.ToString())
			continue
		}
		data, err := json.Marshal(e.Value)
		if err != nil {
			data = []byte(fmt.Sprint(e.Value))
		}
		fmt.Fprintln(w, string(data))
	}
}

// plainValue converts json.Number leaves to int64 or float64 so YAML
// renders numbers rather than quoted strings.
func plainValue(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []interface{}:
		out := make([]interface{}, len(x))
		for i := range x {
			out[i] = plainValue(x[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = plainValue(val)
		}
		return out
	}
	return v
}

func writeMetrics(w io.Writer, pmc *multimaya.PrometheusMetricsCollector) error {
	families, err := pmc.Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func newStderrTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName("multimaya"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	), nil
}

func shutdownTracer(tp *sdktrace.TracerProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Warn("tracer_shutdown_failed", "error", err)
	}
}
