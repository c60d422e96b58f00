// Copyright 2025 Kadir Pekel
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

package observability

const (
	AttrRoute      = "route"
	AttrAllowed    = "allowed"
	AttrKind       = "kind"
	AttrStatus     = "status"
	AttrAction     = "action"
	AttrOutcome    = "outcome"
	AttrMethod     = "http.method"
	AttrStatusCode = "http.status_code"
	AttrJobID      = "job.id"
	AttrOfferID    = "offer.id"
	AttrStep       = "pipeline.step"

	SpanHTTPRequest  = "http.request"
	SpanJobProcess   = "job.process"
	SpanJobStep      = "job.step"
	SpanCompensation = "job.compensate"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"

	DefaultServiceName  = "quill"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"

	InstrumentationName = "github.com/kadirpekel/quill"
)
