package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Ankesh2004/segswap/internal/server"
)

// commandLoop runs the interactive terminal for a serving node.
func commandLoop(ctx context.Context, n *server.Node) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println(">>> Type 'help' for available commands.")
	for {
		fmt.Print("\nsegswap> ")
		var input string
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			fmt.Println("Available Commands:")
			fmt.Println("  get <name>            - Download a file from known peers")
			fmt.Println("  get <name> <addr>     - Download a file from one peer")
			fmt.Println("  files                 - List local files and their state")
			fmt.Println("  id                    - Show this node's address")
			fmt.Println("  exit                  - Stop the node and exit")

		case "get":
			if len(args) < 1 {
				fmt.Println("Error: missing name. Usage: get <name> [addr]")
				continue
			}
			var err error
			if len(args) > 1 {
				err = n.DownloadFrom(ctx, args[0], args[1])
			} else {
				err = n.Download(ctx, args[0])
			}
			if err != nil {
				fmt.Printf("Error: download failed: %v\n", err)
				continue
			}
			fmt.Printf("Saved to %s\n", n.Storage.ResolvePath(args[0]))

		case "files":
			for _, name := range n.Storage.Files() {
				size, _ := n.Storage.FileSize(name)
				indices, _ := n.Storage.SegmentNumbers(name)
				state := "partial"
				if n.Storage.IsComplete(name) {
					state = "complete"
				}
				fmt.Printf("  %-30s %12d bytes  %5d segments  %s\n", name, size, len(indices), state)
			}

		case "id":
			fmt.Printf("Address : %s\n", n.Addr())

		case "exit":
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for info.\n", cmd)
		}
	}
}
