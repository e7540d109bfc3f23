// Package asset persists baked motion-matching data.
//
// An asset bundles the trained product-quantizer codebook, one code per
// fragment, the set of fragments with a usable encoding and the feature
// normalization. The encoded form is a 16-byte header followed by the
// payload split into independently compressed blocks (LZ4, Zstandard or
// none) and guarded by a CRC32C checksum.
//
//	a, _ := asset.New("locomotion", pq, codes)
//	_ = asset.Save(ctx, store, "locomotion.kma", a, asset.CompressionZSTD, nil)
//	a, _ = asset.Load(ctx, store, "locomotion.kma")
package asset
