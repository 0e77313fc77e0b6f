// Package changefeed carries row-level change notifications from PostgreSQL to
// in-process subscribers.
//
// Triggers installed by the migrations publish {table, type, id} per row
// change on a NOTIFY channel. A Listener reads the channel with lib/pq and
// hands each decoded Event to a dispatcher, which loads the changed row; the
// Hub fans events out to subscribers keyed by table name.
//
// Ordering: PostgreSQL delivers notifications in commit order. The Listener
// and Hub preserve that order per subscriber as long as the dispatcher runs a
// single worker. Nothing is promised across tables.
//
// A subscriber that cannot keep up has its subscription closed rather than
// silently losing events; the owner is expected to re-initialise its view.
// Hub.Reset does the same for every subscriber after a listener reconnect.
package changefeed
