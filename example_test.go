package scenesync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/pkg/adapters/memory"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/notify"
	"github.com/aretw0/scenesync/pkg/scene"
)

// ExampleNew_memory connects two replicas through an in-process bus.
func ExampleNew_memory() {
	bus := memory.NewBus()
	defer bus.Close()

	// 1. Create both replicas and attach them to the bus
	var replicas []*scenesync.Replica
	for _, id := range []string{"desk", "laptop"} {
		r, err := scenesync.New(
			scenesync.WithID(id),
			scenesync.WithSchedule(notify.ModeImmediate, 0),
			scenesync.WithSink("bus", bus),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer r.Close()
		if _, err := bus.Subscribe(r); err != nil {
			log.Fatal(err)
		}
		replicas = append(replicas, r)
	}
	desk, laptop := replicas[0], replicas[1]

	// 2. Edit on one replica
	err := desk.Do("add box", func(doc *scene.Document) error {
		box := scene.NewNode(domain.TypeGeometry, "box")
		box.SetName("Box")
		box.SetCustom("height", domain.Number(2))
		doc.Root().AddChild(box)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// 3. Wait for delivery and read it back on the other
	if err := bus.Drain(context.Background()); err != nil {
		log.Fatal(err)
	}
	laptop.View(func(doc *scene.Document) {
		box := doc.Find("box")
		height, _ := box.Custom("height")
		fmt.Println(box.Name(), height)
	})

	// Output:
	// Box 2
}
