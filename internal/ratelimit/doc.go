// Package ratelimit is per-IP token-bucket limiting for the public listener.
//
// State is in memory and per instance. It blunts a single address hammering
// the download routes (each paid download costs a token verification, a
// store lookup and an upstream connection) and gives one log line per
// offender plus a counter per denial. It does not stop distributed abuse;
// that belongs to the CDN or WAF in front.
//
// The visitor map is capped. Once full, unseen addresses are refused until
// eviction frees room, so a spray of spoofed sources cannot grow memory
// without bound.
package ratelimit
