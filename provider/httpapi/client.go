// Package httpapi implements provider.Client against the provider's REST
// API. Every response carries a tagged ok/error envelope; non-2xx statuses
// and ok:false bodies both surface as errors.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/provider"
	"github.com/projecteru2/hatchery/utils"
)

const readyPollInterval = 2 * time.Second

// compile-time interface check.
var _ provider.Client = (*Client)(nil)

// Client talks to the provider over HTTP.
type Client struct {
	endpoint     string
	readyTimeout time.Duration
	hc           *http.Client
}

// New creates a Client from the provider config.
func New(conf config.ProviderConfig) *Client {
	return &Client{
		endpoint:     conf.Endpoint,
		readyTimeout: time.Duration(conf.ReadyTimeoutSeconds) * time.Second,
		hc: &http.Client{
			Timeout: time.Duration(conf.TimeoutSeconds) * time.Second,
		},
	}
}

type createRequest struct {
	Name   string `json:"name"`
	VCPU   int    `json:"vcpu"`
	Memory int64  `json:"memory"`
	Image  string `json:"image"`
}

type vmResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// CreateVM creates the VM and waits for the provider to confirm readiness,
// so the returned address/port are usable.
func (c *Client) CreateVM(ctx context.Context, spec provider.CreateSpec) (*provider.CreateResult, error) {
	req := createRequest{Name: spec.Name, VCPU: spec.VCPU, Memory: spec.Memory, Image: spec.Image}
	var resp vmResponse
	if err := c.do(ctx, http.MethodPost, "/v1/vms", req, &resp); err != nil {
		return nil, fmt.Errorf("create %s: %w", spec.Name, err)
	}

	result := &provider.CreateResult{ProviderID: resp.ID, Address: resp.Address, Port: resp.Port}
	if provider.Status(resp.Status) == provider.StatusReady {
		return result, nil
	}

	// Poll until the provider reports ready and has assigned the address.
	err := utils.WaitFor(ctx, c.readyTimeout, readyPollInterval, func() (bool, error) {
		var poll vmResponse
		if err := c.do(ctx, http.MethodGet, "/v1/vms/"+spec.Name, nil, &poll); err != nil {
			return false, err
		}
		switch provider.Status(poll.Status) {
		case provider.StatusReady, provider.StatusRunning:
			result.Address, result.Port = poll.Address, poll.Port
			if poll.ID != "" {
				result.ProviderID = poll.ID
			}
			return true, nil
		case provider.StatusProvisioning:
			return false, nil
		default:
			return false, fmt.Errorf("unexpected status %q during provisioning", poll.Status)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s ready: %w", spec.Name, err)
	}
	return result, nil
}

func (c *Client) StartVM(ctx context.Context, name string) error {
	var resp vmResponse
	if err := c.do(ctx, http.MethodPost, "/v1/vms/"+name+"/start", nil, &resp); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

func (c *Client) StopVM(ctx context.Context, name string) error {
	var resp vmResponse
	if err := c.do(ctx, http.MethodPost, "/v1/vms/"+name+"/stop", nil, &resp); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

func (c *Client) DeleteVM(ctx context.Context, name string) error {
	var resp vmResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/vms/"+name, nil, &resp); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (c *Client) GetVMStatus(ctx context.Context, name string) (provider.Status, error) {
	var resp vmResponse
	if err := c.do(ctx, http.MethodGet, "/v1/vms/"+name, nil, &resp); err != nil {
		return "", fmt.Errorf("status %s: %w", name, err)
	}
	return provider.Status(resp.Status), nil
}

// do issues one request and decodes the envelope. 404 maps to
// provider.ErrVMNotFound; every other non-2xx or ok:false is a provider
// failure with the server's error string attached.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return provider.ErrVMNotFound
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env vmResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !env.OK {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("provider error (%d): %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
