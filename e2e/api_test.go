//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"videorelay/internal/api"
	"videorelay/internal/dispatcher"
	"videorelay/internal/health"
	"videorelay/internal/lifecycle"
	"videorelay/internal/lifecycle/docker"
	"videorelay/internal/registry"
	"videorelay/internal/testutil"
	"videorelay/pkg/client"
	"videorelay/pkg/transport"
	"videorelay/pkg/video"
)

const localAPIKey = "e2e-key"

// getTestURL returns the base URL and API key for e2e tests.
// If E2E_API_URL is set, tests run against that instance (key from E2E_API_KEY).
// Otherwise a local server backed by the Docker provider is created.
func getTestURL(t *testing.T) (string, string) {
	if url := os.Getenv("E2E_API_URL"); url != "" {
		t.Logf("Using external API: %s", url)
		return url, os.Getenv("E2E_API_KEY")
	}
	return createTestServer(t), localAPIKey
}

func createTestServer(t *testing.T) string {
	provider, err := docker.New(context.Background(), docker.Config{})
	if err != nil {
		t.Fatalf("Failed to create Docker provider: %v", err)
	}

	store := registry.NewMemoryStore()
	d := dispatcher.New(provider, transport.New(10*time.Minute), dispatcher.Config{
		Provider: "docker",
		Owner:    "e2e",
		Machine: lifecycle.Config{
			Image: os.Getenv("E2E_MACHINE_IMAGE"),
		},
	}, dispatcher.WithRegistry(store))

	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Dispatcher:    d,
		HealthChecker: health.NewChecker(provider),
		APIKey:        localAPIKey,
	}))

	t.Cleanup(func() {
		server.Close()
		testutil.MustWaitForValue(t, store.Len, 0, testutil.WithTimeout(30*time.Second))
		provider.Close()
	})
	return server.URL
}

func TestAPI_Readyz(t *testing.T) {
	baseURL, _ := getTestURL(t)

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("Readiness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)

	if !result.IsReady() {
		t.Errorf("Expected ready status, got %s", result.Status)
	}
}

func TestAPI_Livez(t *testing.T) {
	baseURL, _ := getTestURL(t)

	resp, err := http.Get(baseURL + "/livez")
	if err != nil {
		t.Fatalf("Liveness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestAPI_RejectsBadKey(t *testing.T) {
	baseURL, _ := getTestURL(t)

	c := client.NewClient("wrong-key", client.WithBaseURL(baseURL))
	_, err := c.NewJob().From("https://example.com/a.mp4").To("e2e/a.mp4").Process(context.Background())

	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", err)
	}
}

func TestAPI_RejectsInvalidRequest(t *testing.T) {
	baseURL, key := getTestURL(t)

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/process-video", strings.NewReader(`{"output_key":"e2e/a.mp4"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var body video.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "input_url is required" {
		t.Errorf("Expected input_url error, got %q", body.Error)
	}
}

// TestAPI_ProcessVideo runs a real job. It needs a reachable input video
// (E2E_INPUT_URL) and, for the local server, a processing image
// (E2E_MACHINE_IMAGE).
func TestAPI_ProcessVideo(t *testing.T) {
	input := os.Getenv("E2E_INPUT_URL")
	if input == "" {
		t.Skip("E2E_INPUT_URL not set")
	}
	if os.Getenv("E2E_API_URL") == "" && os.Getenv("E2E_MACHINE_IMAGE") == "" {
		t.Skip("E2E_MACHINE_IMAGE not set")
	}
	baseURL, key := getTestURL(t)

	c := client.NewClient(key, client.WithBaseURL(baseURL), client.WithTimeout(10*time.Minute))
	outputKey := "e2e/" + time.Now().UTC().Format("20060102-150405") + ".mp4"

	result, err := c.NewJob().
		From(input).
		To(outputKey).
		Trim(0, 2*time.Second).
		Resize(320, 180).
		Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !strings.Contains(result.OutputURL, outputKey) {
		t.Errorf("Expected output URL to reference %s, got %s", outputKey, result.OutputURL)
	}
}
