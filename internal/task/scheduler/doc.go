// Package scheduler triggers recurring jobs from cron expressions or fixed
// intervals (robfig/cron). Each schedule runs at most one job at a time when
// registered with OverlapSkipIfRunning.
package scheduler
