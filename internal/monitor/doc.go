// Package monitor runs the per-tank processing pipeline: it owns one
// Coordinator per tank, which turns raw air gap and temperature readings
// into snapshots, detects and stabilizes refills, keeps the consumption
// ledger and persists it through a StateStore.
package monitor
