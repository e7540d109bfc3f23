// Package conv provides checked integer conversions for the fixed-width
// length fields of the asset format.
//
// Untrusted values read from disk go through [Uint32ToInt]; lengths about
// to be written go through [IntToUint32]. Loop indices and other values
// bounded by construction use plain casts.
package conv
