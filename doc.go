// Package kinematch provides motion-matching pose search for Go.
//
// A fragment database (one feature vector and root transform per animation
// frame) is baked offline into a compact asset: a product quantizer is
// trained with k-means on the valid fragments and every fragment is
// encoded. At runtime a Matcher scores live queries against the codes and
// solves anchored transitions into tagged segments.
//
// # Quick Start
//
// Bake:
//
//	ctx := context.Background()
//	db, _ := kinematch.LoadDatabase(ctx, "locomotion.yaml", nil)
//	cfg, _ := kinematch.LoadConfig("bake.yaml")
//	store := blobstore.NewLocalStore("./assets")
//
//	b, _ := kinematch.NewAssetBuilder(db, cfg, kinematch.WithLogLevel(slog.LevelInfo))
//	a, _ := b.Bake(ctx, store, "locomotion.kma")
//
// Match:
//
//	m, _ := kinematch.Open(ctx, store, "locomotion.kma", db)
//	res, _ := m.Search(ctx, search.Query{
//	    Features:     pose,
//	    MaxDeviation: 0.5,
//	    Current:      playing,
//	})
//
// # Cooperative Training
//
// Training never blocks a frame for long. Start schedules it and each
// FrameUpdate advances every sub-quantizer by one batch:
//
//	b.Start(ctx)
//	for !b.Done() {
//	    progress, _ := b.FrameUpdate(ctx) // once per frame
//	}
//	a, _ := b.Build(ctx, "locomotion.kma")
//
// RunPaced does the same bounded by the tick rate of a resource.Controller.
//
// # Transitions
//
//	task, _ := m.TransitionTo(ctx, playing, root, ledge, "vault")
//	for !task.State().Done() {
//	    update, _ := task.Execute(ctx, dt)
//	    // apply update.Root and update.SamplingTime
//	}
//
// # Storage
//
// Assets live in any blobstore.BlobStore: memory, local files (memory
// mapped), Amazon S3 or MinIO.
package kinematch
