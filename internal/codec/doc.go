// Package codec wraps the opus voice codec into a loss-resilient pipeline.
// Encoding biases in-band FEC redundancy for an expected loss rate;
// decoding tracks per-sender sequence numbers and fills gaps with FEC
// recovery or packet-loss concealment. There is no retransmission: a frame
// that never arrives is synthesized or superseded 20 ms later.
package codec
