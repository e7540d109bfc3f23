// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("assets/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	m, err := kinematch.Open(ctx, store, "locomotion.kma", db)
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large assets
//   - CRC32C integrity checks on upload
//   - Automatic pagination for listing
package s3
