// Package fs abstracts the file operations used to write blobs atomically
// so that tests can inject failures.
//
// Production code uses [Default]:
//
//	f, err := fs.Default.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
//
// Tests wrap it in a [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp-", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
//
// Operations take no context; local file calls are not interruptible.
package fs
