// Package stream implements the streaming engine: it turns bounded,
// offset-aligned reads against a remote chunk source into an ordered HTTP
// byte stream.
//
// One request is served by one Session. The session owns an admission Slot,
// a resolved object handle, a serving Window and a reorder Buffer. A
// scheduler covers the window with fixed-size logical chunks, keeps a bounded
// number of chunk fetches in flight, and completes buffer slots as reads
// finish. The buffer releases chunks to the response writer strictly in
// sequence order, so a slow client throttles the scheduler instead of growing
// memory.
package stream
