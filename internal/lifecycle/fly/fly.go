// Package fly implements lifecycle.Provider on the Fly Machines REST API.
// Each machine is addressed through the app's public host plus a Fly-Replay
// header that pins the request to the machine's instance.
package fly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"videorelay/internal/apperrors"
	"videorelay/internal/lifecycle"
)

// ReplayHeader routes a request on the app host to one machine.
const ReplayHeader = "Fly-Replay"

const maxErrorBody = 4 << 10

// Provider implements lifecycle.Provider using Fly Machines.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Fly provider. AppName and APIToken are required.
func New(cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()
	if cfg.AppName == "" {
		return nil, fmt.Errorf("fly app name is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("fly api token is required")
	}

	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.With("component", "fly"),
	}, nil
}

type guestConfig struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

type restartConfig struct {
	Policy string `json:"policy"`
}

type servicePort struct {
	Port     int      `json:"port"`
	Handlers []string `json:"handlers"`
}

type serviceCheck struct {
	Type     string `json:"type"`
	Interval string `json:"interval"`
	Timeout  string `json:"timeout"`
}

type service struct {
	Protocol     string         `json:"protocol"`
	InternalPort int            `json:"internal_port"`
	Ports        []servicePort  `json:"ports"`
	Checks       []serviceCheck `json:"checks"`
}

type machineConfig struct {
	Image       string        `json:"image"`
	AutoDestroy bool          `json:"auto_destroy"`
	Restart     restartConfig `json:"restart"`
	Guest       guestConfig   `json:"guest"`
	Services    []service     `json:"services"`
}

type createRequest struct {
	Name   string        `json:"name"`
	Region string        `json:"region"`
	Config machineConfig `json:"config"`
}

type machineResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Region    string `json:"region"`
	State     string `json:"state"`
	PrivateIP string `json:"private_ip"`
}

func buildCreateRequest(spec lifecycle.Spec) createRequest {
	return createRequest{
		Name:   spec.Name,
		Region: spec.Region,
		Config: machineConfig{
			Image:       spec.Image,
			AutoDestroy: true,
			Restart:     restartConfig{Policy: "no"},
			Guest: guestConfig{
				CPUKind:  spec.Guest.CPUKind,
				CPUs:     spec.Guest.CPUs,
				MemoryMB: spec.Guest.MemoryMB,
			},
			Services: []service{{
				Protocol:     "tcp",
				InternalPort: spec.InternalPort,
				Ports: []servicePort{
					{Port: 443, Handlers: []string{"tls", "http"}},
					{Port: 80, Handlers: []string{"http"}},
				},
				Checks: []serviceCheck{{Type: "tcp", Interval: "10s", Timeout: "2s"}},
			}},
		},
	}
}

// Create provisions a machine and returns a handle routed through the app host.
func (p *Provider) Create(ctx context.Context, spec lifecycle.Spec) (*lifecycle.Machine, error) {
	body, err := json.Marshal(buildCreateRequest(spec))
	if err != nil {
		return nil, apperrors.Provision("fly.createMachine", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodPost, p.machinesURL(), bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Provision("fly.createMachine", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Provision("fly.createMachine", apiError(resp))
	}

	var created machineResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, apperrors.Provision("fly.decodeMachine", err)
	}
	if created.ID == "" {
		return nil, apperrors.Provision("fly.decodeMachine", errors.New("response has no machine id"))
	}

	var address string
	if p.cfg.PrivateNet && created.PrivateIP != "" {
		address = net.JoinHostPort(created.PrivateIP, strconv.Itoa(spec.InternalPort))
	}

	p.logger.Info("Machine created", "machineId", created.ID, "name", created.Name, "region", created.Region)

	return &lifecycle.Machine{
		ID:        created.ID,
		Name:      created.Name,
		Region:    created.Region,
		Address:   address,
		Endpoint:  "https://" + p.cfg.AppHost + lifecycle.ProcessPath,
		Headers:   map[string]string{ReplayHeader: "instance=" + created.ID},
		CreatedAt: time.Now(),
	}, nil
}

// AwaitReady calls the wait endpoint until the machine is started. A wait that
// times out server-side is repeated while ctx allows.
func (p *Provider) AwaitReady(ctx context.Context, m *lifecycle.Machine) bool {
	logger := p.logger.With("machineId", m.ID)
	waitURL := p.machineURL(m.ID) + "/wait?state=started&timeout=" +
		strconv.Itoa(int(p.cfg.WaitTimeout/time.Second))

	for ctx.Err() == nil {
		resp, err := p.do(ctx, http.MethodGet, waitURL, nil)
		if err != nil {
			logger.Warn("Machine wait failed", "error", err)
			return false
		}
		status := resp.StatusCode
		if status < 200 || status >= 300 {
			err = apiError(resp)
		}
		resp.Body.Close()

		switch {
		case status >= 200 && status < 300:
			return true
		case status == http.StatusRequestTimeout:
			logger.Debug("Machine wait timed out, retrying")
		default:
			logger.Warn("Machine did not start", "error", err)
			return false
		}
	}
	return false
}

// Stop requests the machine to stop. auto_destroy removes it afterwards.
func (p *Provider) Stop(ctx context.Context, m *lifecycle.Machine) {
	logger := p.logger.With("machineId", m.ID)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodPost, p.machineURL(m.ID)+"/stop", nil)
	if err != nil {
		logger.Warn("Failed to stop machine", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Failed to stop machine", "error", apiError(resp))
		return
	}
	logger.Info("Machine stopped")
}

// Ready checks that the app is visible with the configured token.
func (p *Provider) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodGet, p.cfg.APIURL+"/v1/apps/"+url.PathEscape(p.cfg.AppName), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	return nil
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) machinesURL() string {
	return p.cfg.APIURL + "/v1/apps/" + url.PathEscape(p.cfg.AppName) + "/machines"
}

func (p *Provider) machineURL(id string) string {
	return p.machinesURL() + "/" + url.PathEscape(id)
}

func (p *Provider) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// APIError is a non-success response from the Machines API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fly api returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("fly api returned HTTP %d: %s", e.StatusCode, e.Body)
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

var _ lifecycle.Provider = (*Provider)(nil)
