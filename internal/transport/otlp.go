package transport

import (
	"context"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"

	"github.com/honeyhiveai/honeyhive-go/internal/envprofile"
)

// otlpTracePath is the backend's OTLP/HTTP trace ingestion route.
const otlpTracePath = "/opentelemetry/v1/traces"

// OTLPOptions configures the span exporter.
type OTLPOptions struct {
	ServerURL string
	APIKey    string

	// Protocol selects the wire transport: "http" (protobuf over HTTPS)
	// or "grpc".
	Protocol string

	Profile envprofile.Profile
}

// NewOTLPExporter builds a span exporter bound to the HoneyHive OTLP
// endpoint with bearer auth and the profile's export timeout.
func NewOTLPExporter(ctx context.Context, opts OTLPOptions) (*otlptrace.Exporter, error) {
	u, err := url.Parse(opts.ServerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("otlp: invalid server url %q", opts.ServerURL)
	}
	headers := map[string]string{"Authorization": "Bearer " + opts.APIKey}

	switch opts.Protocol {
	case "grpc":
		gopts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(u.Host),
			otlptracegrpc.WithHeaders(headers),
			otlptracegrpc.WithTimeout(opts.Profile.ExportTimeout),
		}
		if u.Scheme != "https" {
			gopts = append(gopts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(gopts...))
	default:
		hopts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(u.Host),
			otlptracehttp.WithURLPath(otlpTracePath),
			otlptracehttp.WithHeaders(headers),
			otlptracehttp.WithTimeout(opts.Profile.ExportTimeout),
		}
		if u.Scheme != "https" {
			hopts = append(hopts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(hopts...))
	}
}
