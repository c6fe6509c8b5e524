package main

import (
	"flag"
	"fmt"
	"os"

	"transcendence/pong/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("match %d (schema %d)\n", entry.Header.MatchID, entry.Header.SchemaVersion)
		for _, player := range entry.Header.Players {
			fmt.Printf("  slot %d: %s (#%d)\n", player.Slot, player.Name, player.ID)
		}
		if entry.Header.StartedAt != "" {
			fmt.Printf("  started: %s  duration: %s\n", entry.Header.StartedAt, entry.Header.Duration)
		}
		if winner := entry.Winner(); winner != "" {
			fmt.Printf("  winner: %s\n", winner)
		}
		fmt.Printf("  bundle: %s\n", entry.ReplayPath)
	}
}
