// Package http exposes pair identification over HTTP.
//
// Handlers are thin: they decode the request into a timeseries.Table and
// pairs.Options, call pairs.Identifier, and render the report. Every failure
// is rendered as RFC 7807 problem details by errors.ErrorHandler.
//
// # Endpoints
//
//	GET  /healthz          liveness
//	GET  /readyz           readiness
//	GET  /version          service name and version
//	POST /api/v1/pairs     identify pairs in a JSON or CSV price table
//
// A JSON request carries the table inline:
//
//	{
//	  "dates":   ["2024-01-02", "2024-01-03"],
//	  "prices":  {"KO": [60.1, 60.4], "PEP": [170.2, null]},
//	  "options": {"cointegration_method": "johansen"}
//	}
//
// null prices are missing observations. A text/csv request carries the same
// layout as the CLI input file and takes its options from the query string.
package http
