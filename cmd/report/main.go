// Command report posts a lost/found item to a running board server, or
// closes one. Intended for scripting and smoke-testing deployments.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server      string
		userID      string
		kind        string
		title       string
		description string
		location    string
		closeID     string
	)

	flag.StringVar(&server, "server", envOrDefault("LOSTFOUND_SERVER", "http://localhost:3000"), "Board server base URL")
	flag.StringVar(&userID, "user", envOrDefault("LOSTFOUND_USER_ID", ""), "Authenticated user id")
	flag.StringVar(&kind, "kind", "Lost", "Report kind: Lost or Found")
	flag.StringVar(&title, "title", "", "Item title")
	flag.StringVar(&description, "description", "", "Item description")
	flag.StringVar(&location, "location", "", "Free-text location (optional)")
	flag.StringVar(&closeID, "close", "", "Close the item with this id instead of creating one")
	flag.Parse()

	if userID == "" {
		return fmt.Errorf("--user is required (or set LOSTFOUND_USER_ID)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 30 * time.Second}

	if closeID != "" {
		fmt.Printf("Closing item %s...\n", closeID)
		return do(ctx, client, http.MethodPost, server+"/items/"+closeID+"/close", userID, nil)
	}

	if title == "" || description == "" {
		return fmt.Errorf("--title and --description are required")
	}

	body := map[string]string{
		"type":        kind,
		"title":       title,
		"description": description,
		"location":    location,
	}

	fmt.Printf("Posting %s item %q...\n", kind, title)
	return do(ctx, client, http.MethodPost, server+"/items", userID, body)
}

func do(ctx context.Context, client *http.Client, method, url, userID string, body any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	fmt.Println(string(respBody))
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
