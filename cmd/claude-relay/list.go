package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func runList(args []string) error {
	jsonOutput := false
	for _, a := range args {
		if a == "-json" || a == "--json" {
			jsonOutput = true
		}
	}

	client, err := newDaemonClient()
	if err != nil {
		return err
	}
	sessions, err := client.listSessions()
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	for _, s := range sessions {
		preview := s.LastMessagePreview
		if len(preview) > 60 {
			preview = preview[:57] + "..."
		}
		fmt.Printf("%s  [%s]  %-10s  %s\n", s.ID, s.MultiplexerStatus, s.LastMessageRole, strings.ReplaceAll(preview, "\n", " "))
	}
	return nil
}
