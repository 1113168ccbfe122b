// Command sweepctl triggers an immediate retention sweep on a running server
// and prints how many sessions it removed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		baseFlag    string
		timeoutFlag int
	)

	flag.StringVar(&baseFlag, "base", "http://localhost:8100", "server base URL")
	flag.IntVar(&timeoutFlag, "timeout", 30, "request timeout in seconds")
	flag.Parse()

	base := strings.TrimRight(strings.TrimSpace(baseFlag), "/")
	if base == "" {
		exitWithError(fmt.Errorf("-base is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/cleanup", nil)
	if err != nil {
		exitWithError(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		exitWithError(fmt.Errorf("cleanup request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		exitWithError(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		exitWithError(fmt.Errorf("cleanup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var result struct {
		SessionsRemoved int `json:"sessions_removed"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		exitWithError(fmt.Errorf("decode response: %w", err))
	}

	fmt.Printf("sweep removed %d session(s)\n", result.SessionsRemoved)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
