package main

import (
	"flag"
	"log"
	"sort"
	"strings"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/multicast"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/outbox"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

func main() {
	var path string
	flag.StringVar(&path, "outbox", "data/outbox.jsonl", "outbox journal to replay")
	flag.Parse()

	log.SetFlags(0)

	ob, err := outbox.New(path)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	entries, err := ob.Read()
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	s := store.New(multicast.State{}, multicast.Reduce)
	for _, a := range outbox.Actions(entries) {
		s.Dispatch(a)
	}
	state := s.State()

	ids := make([]string, 0, len(state))
	for id := range state {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	log.Printf("replayed %d entries, %d multicasts", len(entries), len(ids))
	for _, id := range ids {
		m := state[id]
		p := multicast.Aggregate(m)
		names := make([]string, 0, len(m.Destinations))
		for _, d := range m.Destinations {
			if d.Name != "" {
				names = append(names, d.Name)
			} else {
				names = append(names, d.ID)
			}
		}
		log.Printf("%s %5.1f%% success=%d failed=%d remaining=%d failed=%v partial=%v to=[%s]",
			id, p.Percent, len(p.Success), len(p.Failed), len(p.Remaining),
			multicast.DidFail(m), multicast.IsPartial(m), strings.Join(names, ", "))
		for _, msg := range p.ErrorMessages {
			log.Printf("    error: %s", msg)
		}
	}
}
