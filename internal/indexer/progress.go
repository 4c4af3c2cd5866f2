package indexer

// ProgressReporter provides callbacks for reporting indexing progress.
// Implementations can display progress bars, log messages, or remain silent.
// Callbacks are invoked from a single goroutine.
type ProgressReporter interface {
	// OnDiscoveryStart is called when the crawl begins.
	OnDiscoveryStart()

	// OnDiscoveryComplete is called with the number of candidate paths found.
	OnDiscoveryComplete(candidates int)

	// OnExtractionStart is called before any asset is dispatched.
	OnExtractionStart(candidates int)

	// OnContainerExpanded is called after a container has been enumerated.
	OnContainerExpanded(path string, layers int)

	// OnAssetProcessed is called once per dispatched asset.
	OnAssetProcessed(asset AssetDescriptor, outcome Outcome)

	// OnAggregationStart is called with the number of footprint records.
	OnAggregationStart(records int)

	// OnComplete is called when the run has been finalized.
	OnComplete(snapshot *Snapshot)
}

// NoOpProgressReporter is a progress reporter that does nothing.
// Used when progress reporting is disabled (e.g., --quiet flag).
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) OnDiscoveryStart()                                       {}
func (n *NoOpProgressReporter) OnDiscoveryComplete(candidates int)                      {}
func (n *NoOpProgressReporter) OnExtractionStart(candidates int)                        {}
func (n *NoOpProgressReporter) OnContainerExpanded(path string, layers int)             {}
func (n *NoOpProgressReporter) OnAssetProcessed(asset AssetDescriptor, outcome Outcome) {}
func (n *NoOpProgressReporter) OnAggregationStart(records int)                          {}
func (n *NoOpProgressReporter) OnComplete(snapshot *Snapshot)                           {}
