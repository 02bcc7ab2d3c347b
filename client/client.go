// Package client calls the HTTP API of a running maestro server
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/calvinmclean/babyapi"

	"github.com/calvinmclean/maestro/api"
	"github.com/calvinmclean/maestro/commands"
	"github.com/calvinmclean/maestro/config"
	"github.com/calvinmclean/maestro/sequence"
)

type Client struct {
	client *babyapi.Client[*api.Sequence]
	addr   string
}

func New(addr string) *Client {
	return &Client{
		client: babyapi.NewClient[*api.Sequence](addr, "/sequences"),
		addr:   strings.TrimSuffix(addr, "/"),
	}
}

// CreateSequence stores a sequence document and returns its ID
func (c *Client) CreateSequence(ctx context.Context, name string, doc sequence.Document) (string, error) {
	resp, err := c.client.Post(ctx, &api.Sequence{Name: name, Document: doc})
	if err != nil {
		return "", err
	}
	return resp.Data.GetID(), nil
}

func (c *Client) GetSequence(ctx context.Context, id string) (*api.Sequence, error) {
	resp, err := c.client.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) DeleteSequence(ctx context.Context, id string) error {
	_, err := c.client.Delete(ctx, id)
	return err
}

// RunSequence plays a stored sequence. A times of 0 uses the sequence's number_of_times
func (c *Client) RunSequence(ctx context.Context, id string, times int) ([]float64, error) {
	url, err := c.client.URL(id)
	if err != nil {
		return nil, err
	}
	url += "/run"
	if times > 0 {
		url += "?times=" + strconv.Itoa(times)
	}

	var result commands.Result
	err = c.makeRequest(ctx, http.MethodPost, url, nil, &result)
	return result.Positions, err
}

// ExportSequence writes a stored sequence to a .seq file on the server and returns the server's message
func (c *Client) ExportSequence(ctx context.Context, id, filename string) (string, error) {
	url, err := c.client.URL(id)
	if err != nil {
		return "", err
	}

	var result commands.Result
	err = c.makeRequest(ctx, http.MethodPost, url+"/export", api.ExportRequest{Filename: filename}, &result)
	return result.Message, err
}

// Run plays frames without storing them
func (c *Client) Run(ctx context.Context, frames []sequence.Frame, repeat int) ([]float64, error) {
	var result commands.Result
	err := c.makeRequest(ctx, http.MethodPost, c.rootURL("/run"), api.RunRequest{Frames: frames, Repeat: repeat}, &result)
	return result.Positions, err
}

func (c *Client) Move(ctx context.Context, move api.MoveRequest) ([]float64, error) {
	var result commands.Result
	err := c.makeRequest(ctx, http.MethodPost, c.rootURL("/move"), move, &result)
	return result.Positions, err
}

func (c *Client) SetTarget(ctx context.Context, target api.TargetRequest) error {
	return c.makeRequest(ctx, http.MethodPost, c.rootURL("/target"), target, nil)
}

func (c *Client) SetSpeed(ctx context.Context, speed api.SpeedRequest) error {
	return c.makeRequest(ctx, http.MethodPost, c.rootURL("/speed"), speed, nil)
}

func (c *Client) Home(ctx context.Context) ([]float64, error) {
	var result commands.Result
	err := c.makeRequest(ctx, http.MethodPost, c.rootURL("/home"), nil, &result)
	return result.Positions, err
}

func (c *Client) SetHome(ctx context.Context) ([]float64, error) {
	var result commands.Result
	err := c.makeRequest(ctx, http.MethodPost, c.rootURL("/sethome"), nil, &result)
	return result.Positions, err
}

func (c *Client) Positions(ctx context.Context) ([]float64, error) {
	var result commands.Result
	err := c.makeRequest(ctx, http.MethodGet, c.rootURL("/positions"), nil, &result)
	return result.Positions, err
}

func (c *Client) Config(ctx context.Context) (*config.ControllerConfig, error) {
	var cfg config.ControllerConfig
	err := c.makeRequest(ctx, http.MethodGet, c.rootURL("/config"), nil, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) SaveConfig(ctx context.Context, filename string) error {
	return c.makeRequest(ctx, http.MethodPost, c.rootURL("/config/save"), api.ConfigFileRequest{Filename: filename}, nil)
}

func (c *Client) LoadConfig(ctx context.Context, filename string) (string, error) {
	var result commands.Result
	err := c.makeRequest(ctx, http.MethodPost, c.rootURL("/config/load"), api.ConfigFileRequest{Filename: filename}, &result)
	return result.Message, err
}

// rootURL is the address of a controller route. These are not under /sequences
func (c *Client) rootURL(path string) string {
	return c.addr + path
}

func (c *Client) makeRequest(ctx context.Context, method, url string, body, target any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding body: %w", err)
		}

		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.MakeGenericRequest(req, target)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	if resp.Response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, response: %v", resp.Response.StatusCode, resp.Body)
	}

	return nil
}
