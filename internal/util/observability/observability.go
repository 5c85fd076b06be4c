// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability provides tracing of s3m connection brackets.
//
// Every Conn operation runs in its own span named after the operation,
// with the database path and connection ID as attributes;
// nested brackets become child spans.
// Spans are exported only when SetupOtel is given an endpoint
// (the --otlp-endpoint flag of the s3m command); otherwise the global no-op tracer drops them.
// FuncCall additionally marks brackets as runtime/trace regions.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelsdkresource "go.opentelemetry.io/otel/sdk/resource"
	otelsdktrace "go.opentelemetry.io/otel/sdk/trace"
	otelsemconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
)

// ShutdownFunc is a function that shuts down the OpenTelemetry observability system.
type ShutdownFunc func(context.Context) error

// SetupOtel sets up OTLP/HTTP exporter and the global tracer provider used for bracket spans.
//
// If endpoint is empty, no exporter is set up and the returned function is nil.
// The caller should call the returned function before exit to flush pending spans.
func SetupOtel(service, endpoint string) (ShutdownFunc, error) {
	if endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptracehttp.New(
		context.TODO(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	tp := otelsdktrace.NewTracerProvider(
		otelsdktrace.WithBatcher(exporter, otelsdktrace.WithBatchTimeout(time.Second)),
		otelsdktrace.WithSampler(otelsdktrace.AlwaysSample()),
		otelsdktrace.WithResource(otelsdkresource.NewSchemaless(
			otelsemconv.ServiceNameKey.String(service),
		)),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
