// Package sync runs the synchronization of one source registry into local storage.
//
// # Run modes
//
// A run is requested as auto, full, incremental or resume and resolved
// against the source's stored progress:
//
//   - auto: incremental when an earlier run completed, full otherwise
//   - full: walk the whole listing
//   - incremental: fetch records updated since the last completed run, or
//     since an explicit timestamp
//   - resume: continue from the position a limited or interrupted run left
//     behind, reusing that run's updated-since filter
//
// # Timestamps
//
// The last-sync timestamp is stamped with the start of the run, never its
// end, so records updated while a run is in flight are picked up by the next
// incremental run. A resumed run that completes stamps the start of the run
// it resumed.
//
// # Progress
//
// Records are persisted page by page. The resume position only moves past a
// page once every record of that page is stored, and the progress file is
// written when the run ends for any reason, including cancellation. A run
// that does not complete keeps its position and leaves the last-sync
// timestamp untouched.
//
// The coordinator subpackage re-runs the whole pipeline on an interval for
// long-running processes.
package sync
