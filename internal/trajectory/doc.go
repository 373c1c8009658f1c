// Package trajectory models recorded movement as three nested, immutable
// values: a Track (ordered space-time points plus the connections between
// consecutive points), Tracks (all tracks of one subject) and a
// TracksCollection (all subjects).
//
// Constructors validate their invariants and either return a complete
// value or an error; no partially built value escapes. Derived metrics
// (segment length and speed) are computed once at construction with a
// geo.Metric that knows whether coordinates are geographic or projected.
//
// Flatten turns any level into a Table of point rows in which unrelated
// trajectories are separated by break rows, which is what plotting and
// export code consume.
package trajectory
