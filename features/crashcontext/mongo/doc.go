// Package mongo provides a MongoDB-backed crashcontext.Store. Build the
// low-level client via features/crashcontext/mongo/clients/mongo and pass it
// to NewStore. Each RUM application owns one document holding its last known
// session state.
package mongo
