// Package geom provides the rigid transforms used to anchor transitions.
//
// A Transform is a translation plus a unit quaternion rotation. The
// character's forward axis is +Z and up is +Y.
package geom
