package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every collector exposed by this package.
const namespace = "cmdchat"

// Registry is the Prometheus registry every collector in this package
// registers itself with. A dedicated registry (rather than the default
// global one) keeps /metrics free of Go runtime collectors the broker
// does not want to promise as part of its contract.
var Registry = prometheus.NewRegistry()
