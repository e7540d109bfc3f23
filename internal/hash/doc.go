// Package hash provides the CRC32-Castagnoli checksums that guard asset
// payloads on disk and in object storage.
//
// One-shot:
//
//	sum := hash.CRC32C(payload)
//
// Streaming:
//
//	h := hash.NewCRC32C()
//	h.Write(block1)
//	h.Write(block2)
//	sum := h.Sum32()
//
// Go's hash/crc32 uses SSE4.2 or the ARM CRC extension when available.
package hash
