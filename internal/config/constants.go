package config

// Application constants
const (
	AppName        = "plutus-pairtrading"
	ServiceName    = "plutus-pairs-report"
	ServiceVersion = "0.3.0"
	MeterName      = "plutus"
)
