// Package config loads the application configuration.
//
// # Configuration Sources
//
// Configuration is layered, each source overriding the one before it:
//
//  1. Default() values (lowest priority)
//  2. A YAML file: the path passed to Load, $PLUTUS_CONFIG_FILE, or
//     plutus.yaml in the working directory
//  3. Environment variables (highest priority)
//
// # Environment Variables
//
// Variables are named PLUTUS_<SECTION>_<FIELD>:
//
//	PLUTUS_PIPELINE_SECURITIES=AAPL,MSFT,GOOG
//	PLUTUS_PIPELINE_PLUS_THRESHOLD=0.7
//	PLUTUS_PIPELINE_COINTEGRATION_METHOD=johansen
//	PLUTUS_LOGGING_LEVEL=debug
//	PLUTUS_TELEMETRY_METRICS_ENABLED=true
//
// # Validation
//
// Load validates every section with struct tags and reports the first
// failure as a CONFIG error. Method names, trends and ranges are checked
// again by pairs.Identifier, so a Config built by hand is safe to use.
package config
