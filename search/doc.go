// Package search finds the fragment that best continues a live pose.
//
// Pose cost is the Euclidean distance between the normalized query and a
// candidate as seen through the product quantizer codebook, evaluated with
// a per-query asymmetric distance table. An optional trajectory cost is
// added with a caller-supplied weight.
//
// Candidates are scanned in ascending fragment order and a later candidate
// only wins with a strictly lower cost, so results are deterministic.
// Fragments without a valid encoding are never selected.
package search
