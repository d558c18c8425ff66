// Package pairs identifies tradeable pairs: it screens a universe of
// securities by correlation, tests each surviving pair for stationarity of
// its legs and cointegration, and ranks the pairs that pass.
//
// The per-pair tests run concurrently on a bounded errgroup. Each worker
// writes only its own result slot, and the stationarity verdict of a
// security is computed once and shared by every pair it belongs to.
package pairs
