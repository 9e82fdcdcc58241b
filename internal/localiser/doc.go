// Package localiser owns the shared data model of the scan-matching
// localiser: poses, per-cycle estimates and heading normalisation.
//
// Responsibilities: value types exchanged between the map store, the scan
// source adapter, the two localisers (grid search and particle filter) and
// the estimate sinks.
// Key types: Pose, Estimate, Variance.
//
// Dependency rule: this package depends on nothing else in the module.
// Subpackages (mapstore, scan, scoring, gridsearch, particle, pipeline,
// monitor, storage, visualiser) may depend on it, never the reverse.
package localiser
