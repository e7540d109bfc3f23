// Package transition implements anchored transitions: moving a character
// from its current clip into a target clip so that the target's contact
// marker lands exactly on a world-space contact transform.
//
// A Task runs through the states
//
//	Initializing -> Waiting -> Active -> Complete
//	Initializing -> Failed
//
// FindTransition pairs source frames ahead of the current sampling time
// with target frames leading up to each interval's contact marker. A pair
// is acceptable when the anchored root transforms lie within the linear and
// angular tolerances. Per interval the first target (in frame order) with
// an acceptable source wins, paired with its first acceptable source; the
// interval with the lowest pose cost is chosen, earlier intervals winning
// ties.
//
// Execute advances the task by a simulation step and returns the blended
// root transform. The blend weight is theta = clamp(elapsed / BlendTime,
// 0, 1), so theta reaches 1 at the contact marker and the root meets the
// contact transform there; from contact to the escape marker the root
// follows the anchored target clip. Before the source frame the current
// clip is played and blended towards its target-aligned copy; from the
// source frame on the target clip is played and blended from its
// source-aligned copy. Failed is terminal and leaves the character
// unchanged.
package transition
