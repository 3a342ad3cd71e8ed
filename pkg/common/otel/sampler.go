package otel

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// endpointExcluder provides a sampler that filters out spans for a configured
// set of endpoints and applies probability sampling to the rest.
type endpointExcluder struct {
	endpoints   map[string]struct{}
	probability float64
}

func newEndpointExcluder(endpoints map[string]struct{}, probability float64) endpointExcluder {
	return endpointExcluder{
		endpoints:   endpoints,
		probability: probability,
	}
}

// ShouldSample implements the sampler interface. It checks the configured
// endpoints to see if the span should be dropped before applying the
// probability-based sampler.
func (ee endpointExcluder) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for i := range params.Attributes {
		if params.Attributes[i].Key == "http.target" {
			if _, exists := ee.endpoints[params.Attributes[i].Value.AsString()]; exists {
				return sdktrace.SamplingResult{Decision: sdktrace.Drop}
			}
		}
	}

	return sdktrace.TraceIDRatioBased(ee.probability).ShouldSample(params)
}

// Description implements the sampler interface.
func (ee endpointExcluder) Description() string { return "endpointExcluder" }
