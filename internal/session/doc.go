// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry of live connections keyed by id.
// Writers are the worker loops adding and removing their connections;
// readers are shutdown and debug probes walking the set.
package session
