package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	totalRequests = 50
	quantity      = 1
)

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	ctx := context.Background()

	baseURL := getenv("STRESS_BASE_URL", "http://localhost:3000")
	customerID := getenv("STRESS_CUSTOMER_ID", "")
	inventoryID := getenv("STRESS_INVENTORY_ID", "")
	if customerID == "" || inventoryID == "" {
		log.Fatal("STRESS_CUSTOMER_ID and STRESS_INVENTORY_ID are required")
	}

	token, err := login(ctx, baseURL, getenv("ADMIN_USERNAME", "admin"), getenv("ADMIN_PASSWORD", "p"))
	if err != nil {
		log.Fatalf("failed to login: %v", err)
	}

	cartURL, err := createCart(ctx, baseURL, token, customerID)
	if err != nil {
		log.Fatalf("failed to create cart: %v", err)
	}
	log.Printf("created cart %s", cartURL)

	// Counters
	var successCount atomic.Int32
	var conflictCount atomic.Int32
	var otherCount atomic.Int32

	body, _ := json.Marshal(map[string]any{"inventoryId": inventoryID, "quantity": quantity})

	// Every request carries the same precondition
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status, err := do(ctx, http.MethodPut, cartURL+"/add", token, `"0"`, body)
			switch {
			case err != nil:
				otherCount.Add(1)
			case status == http.StatusCreated:
				successCount.Add(1)
			case status == http.StatusConflict:
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	conflicts := conflictCount.Load()
	other := otherCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Created:          %d\n", success)
	fmt.Printf("Conflicts:        %d\n", conflicts)
	fmt.Printf("Other:            %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == 1 && conflicts == int32(totalRequests-1) {
		fmt.Printf("PASS: Exactly 1 add succeeded, %d conflicted\n", totalRequests-1)
	} else {
		fmt.Printf("FAIL: Expected 1 created/%d conflicts, got %d/%d (%d other)\n",
			totalRequests-1, success, conflicts, other)
	}

	// Verify the cart moved exactly one version
	status, err := do(ctx, http.MethodGet, cartURL, token, "", nil)
	if err != nil {
		log.Fatalf("failed to read cart: %v", err)
	}
	if status == http.StatusNotModified {
		fmt.Println("PASS: Cart is at version 1")
	} else {
		fmt.Printf("FAIL: Expected cart at version 1, got status %d\n", status)
	}
}

func login(ctx context.Context, baseURL, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %d", resp.StatusCode)
	}

	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", err
	}
	return "Bearer " + tokens.AccessToken, nil
}

func createCart(ctx context.Context, baseURL, token, customerID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"customerId": customerID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/carts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create returned %d", resp.StatusCode)
	}
	return baseURL + resp.Header.Get("Location"), nil
}

// do sends If-Match for writes and If-None-Match "1" for reads.
func do(ctx context.Context, method, url, token, ifMatch string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", token)
	if method == http.MethodGet {
		req.Header.Set("If-None-Match", `"1"`)
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("If-Match", ifMatch)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
