// Package flexlink is a client-side protocol engine for FlexRadio-style
// software defined radios. It maintains a live mirror of the radio's state
// (slices, panadapters, waterfalls, meters, audio and IQ streams) by
// speaking the radio's two co-located protocols: the newline-delimited TCP
// control protocol carrying commands, replies and status broadcasts, and
// the VITA-49 UDP protocol carrying spectrum bins, waterfall lines and
// audio/IQ samples.
//
// The engine does not dial anything itself. Discovery and connection
// bootstrap hand it an established TCP connection and a bound UDP socket;
// from there it keeps the mirrored object graph consistent and routes
// every data-plane packet to the entity that owns its stream.
package flexlink
