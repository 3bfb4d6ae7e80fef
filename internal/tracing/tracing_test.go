// Copyright 2025 Tom Barlow
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

package tracing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(Config{Enabled: false})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_StdoutExporter(t *testing.T) {
	var out bytes.Buffer
	p, err := Setup(Config{
		Enabled:     true,
		Exporter:    ExporterStdout,
		ServiceName: "workflow-test",
		SampleRatio: 1,
		Output:      &out,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "instance.submit")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "instance.submit")
	assert.Contains(t, out.String(), "workflow-test")
}

func TestSetup_ZeroRatioDropsRootSpans(t *testing.T) {
	p, err := Setup(Config{Enabled: true, Exporter: ExporterNone, SampleRatio: 0})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := p.Tracer("test").Start(context.Background(), "dropped")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestSetup_UnknownExporter(t *testing.T) {
	_, err := Setup(Config{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestHTTPMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := HTTPMiddleware(tp.Tracer("test"))(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/tasks/42", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "500", attrs["http.response.status_code"])
	assert.Equal(t, "/v1/tasks/42", attrs["url.path"])
}
