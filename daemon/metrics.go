package daemon

import "github.com/docker/go-metrics"

var (
	repoActions  metrics.LabeledTimer
	objectWrites metrics.LabeledCounter
	gcReclaimed  metrics.Counter
)

func init() {
	ns := metrics.NewNamespace("converge", "daemon", nil)
	repoActions = ns.NewLabeledTimer("repo_actions", "The number of seconds it takes to process each repo action", "action")
	for _, a := range []string{
		"create_repo",
		"publish",
		"bundle",
		"promote",
		"release",
		"gc",
	} {
		repoActions.WithValues(a).Update(0)
	}
	objectWrites = ns.NewLabeledCounter("object_writes", "The total number of objects written to the store", "kind")
	gcReclaimed = ns.NewCounter("gc_reclaimed_bytes", "The total number of bytes reclaimed by garbage collection")
	metrics.Register(ns)
}
