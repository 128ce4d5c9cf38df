package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-outbox/subscription"
)

/* validate-subscriptions - Standalone CLI tool to validate subscriptions.yaml
 * Usage: go run cmd/validate-subscriptions/main.go [subscriptions.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	// Get subscriptions file path from args or use default
	subscriptionsFile := "subscriptions.yaml"
	if len(os.Args) > 1 {
		subscriptionsFile = os.Args[1]
	}

	fmt.Printf("Validating subscriptions file: %s\n", subscriptionsFile)
	fmt.Println(strings.Repeat("-", 50))

	loader := subscription.NewLoader()
	if err := loader.Load(subscriptionsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d subscription(s):\n", len(loaded))

	for i, sub := range loaded {
		fmt.Printf("\n%d. Subscription: %s\n", i+1, sub.ID)
		fmt.Printf("   URL:         %s %s\n", sub.Method, sub.URL)
		fmt.Printf("   Enabled:     %t\n", sub.Enabled)
		fmt.Printf("   Events:      %s\n", strings.Join(sub.Events, ", "))
		fmt.Printf("   Max Retries: %d\n", sub.MaxRetries)
		if sub.Platform != "" {
			fmt.Printf("   Platform:    %s\n", sub.Platform)
		}
		if len(sub.Headers) > 0 {
			fmt.Printf("   Headers:     %d custom\n", len(sub.Headers))
		}
	}

	fmt.Printf("\n✓ All subscriptions are valid!\n")
	os.Exit(0)
}
