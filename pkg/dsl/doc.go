/*
Package dsl provides fluent builders for scene trees and patch envelopes.

Trees are built from real scene nodes and encoded through the entity type
registry, so the resulting snapshots are exactly what a replica would
produce. They are handy for seeding documents, for Restore and for tests.

Example usage:

	b := dsl.New()
	b.Folder("floor-1").Name("Floor 1").
		Geometry("pump").Name("Pump").Custom("height", domain.Number(2))
	b.Metadata("meta")

	snap, err := b.Build()
	if err != nil {
		return err
	}
	replica, err := scenesync.New(scenesync.WithSnapshot(&snap))

	env := dsl.Patch("rename-pump").
		Update("pump", 1, map[string]any{domain.FieldName: "Main pump"}).
		Remove("meta").
		Build()
	_, err = replica.Apply(env)
*/
package dsl
