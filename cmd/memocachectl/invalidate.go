package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func cmdInvalidate(args []string) {
	addr := defaultAdminAddr
	var keys, tags []string
	all := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			if i+1 < len(args) {
				addr = args[i+1]
				i++
			}
		case "--keys":
			if i+1 < len(args) {
				keys = splitNonEmpty(args[i+1])
				i++
			}
		case "--tags":
			if i+1 < len(args) {
				tags = splitNonEmpty(args[i+1])
				i++
			}
		case "--all":
			all = true
		}
	}

	if !all && len(keys) == 0 && len(tags) == 0 {
		fmt.Fprintln(os.Stderr, "invalidate: specify --keys, --tags, or --all")
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"keys": keys,
		"tags": tags,
		"all":  all,
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(adminURL(addr, "/invalidate"), "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error invalidating: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "admin server returned %d: %s\n", resp.StatusCode, respBody)
		os.Exit(1)
	}
	fmt.Println(string(respBody))
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
