// A terminal client for trying the sync protocol: each line typed is
// appended to the shared document, and remote edits are printed as
// they arrive.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cowrite/cowrite/internal/client"
	"github.com/cowrite/cowrite/internal/ot"
)

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:8080", "server base URL")
	doc := flag.String("doc", "scratch", "document id")
	token := flag.String("token", "", "session token from /login")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required (POST /register or /login to get one)")
	}

	url := fmt.Sprintf("%s/ws/%s?token=%s", *addr, *doc, *token)
	e, err := client.Dial(context.Background(), url)
	if err != nil {
		log.Fatal(err)
	}
	defer e.Close()

	fmt.Printf("--- %s @ revision %d ---\n%s\n", *doc, e.Revision(), e.Text())

	go func() {
		last := e.Text()
		for range time.Tick(500 * time.Millisecond) {
			if text := e.Text(); text != last {
				last = text
				fmt.Printf("--- revision %d (latency %v) ---\n%s\n", e.Revision(), e.Latency(), text)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		err := e.EditWith(func(text string) *ot.Operation {
			return ot.Diff(text, text+line+"\n")
		})
		if err != nil {
			log.Printf("edit failed: %v", err)
		}
	}
}
