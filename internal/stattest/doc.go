// Package stattest implements the unit-root and cointegration tests used to
// qualify trading pairs.
//
// Stationarity tests (ADF, Phillips-Perron, KPSS) operate on one security and
// return a StationarityResult. Cointegration tests (Engle-Granger,
// Phillips-Ouliaris, Johansen) operate on two or more securities and return
// a CointegrationResult. Every test validates its input in the same order
// before doing any numerical work:
//
//  1. the trend description, against the trends the test accepts
//  2. the existence of every named security column
//  3. parameter ranges (lags, significance level, statistic name)
//  4. the length of the usable sample
//
// Rows where any involved security is NaN are dropped before testing.
//
// Decision rules differ by test. ADF and Phillips-Perron declare a series
// stationary when the p-value is below the significance level. KPSS has
// stationarity as its null and declares a series stationary when the p-value
// is above the significance level.
package stattest
