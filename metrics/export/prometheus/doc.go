// Package prometheus renders engine counters in Prometheus text exposition
// format. Counters are named identity_*_total and the login latency
// histogram is identity_login_latency_seconds.
//
// Nothing is registered globally; callers mount Handler themselves.
package prometheus
