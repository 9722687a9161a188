// Package tabs enforces a single active tab per session.
//
// Every tab writes a timestamped record for its session into shared storage on
// each tick and reads back all peer records. Among the records that are alive
// (within one heartbeat interval of now), the tab with the smallest id owns the
// session. Tab ids are ULIDs, so the earliest-created tab wins and every tab
// reaches the same verdict without talking to the others. A tab that sees a
// live peer with a smaller id moves to Conflict.
package tabs
