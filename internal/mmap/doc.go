// Package mmap maps baked asset files read-only into memory so the encoded
// fragment table can be used in place.
//
//	m, err := mmap.Open("locomotion.kma")
//	if err != nil { ... }
//	defer m.Close()
//
//	codes, _ := m.Region(off, n)
//	_ = codes.Advise(mmap.AccessRandom)
//
// Unix systems use mmap(2) and madvise(2); on Windows a read-only view is
// created and access hints are ignored. Slices returned by a Mapping are
// invalid after Close.
package mmap
