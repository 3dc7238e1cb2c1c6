// Package api provides a client for accessing the btcflow service through
// its JSON-RPC API.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	jsonrpc "github.com/gorilla/rpc/json"

	est "github.com/joltfun/btcflow/estimate"
)

type Config struct {
	Host    string
	Port    string
	Timeout int
}

type Client struct {
	httpclient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	httpclient := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	return &Client{httpclient: httpclient, cfg: cfg}
}

func (c *Client) Stop() error {
	_, err := c.doRPC("stop", nil)
	return err
}

func (c *Client) Status() (map[string]string, error) {
	r, err := c.doRPC("status", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]string
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Estimates returns the currently published fee schedule.
func (c *Client) Estimates() (*est.Schedule, error) {
	r, err := c.doRPC("estimates", nil)
	if err != nil {
		return nil, err
	}

	result := new(est.Schedule)
	if err := json.Unmarshal(r, result); err != nil {
		return nil, err
	}
	return result, nil
}

// EstimateFee returns the recommended fee rate for confirmation within
// target minutes at probability prob, from the current schedule.
func (c *Client) EstimateFee(target int64, prob float64) (interface{}, error) {
	r, err := c.doRPC("estimatefee", []interface{}{target, prob})
	if err != nil {
		return nil, err
	}

	var result interface{}
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Scores() (map[string]map[string]float64, error) {
	r, err := c.doRPC("predictscores", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]map[string]float64
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Flow returns the latest per-bucket inflow and drain rates per horizon.
func (c *Client) Flow() (map[string]map[string]float64, error) {
	r, err := c.doRPC("flow", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]map[string]float64
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Mempool returns the latest per-bucket pool weight.
func (c *Client) Mempool() (map[string]float64, error) {
	r, err := c.doRPC("mempool", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]float64
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// History returns published schedules with timestamps in [start, end).
func (c *Client) History(start, end int64) ([]*est.Schedule, error) {
	r, err := c.doRPC("history", []int64{start, end})
	if err != nil {
		return nil, err
	}

	var result []*est.Schedule
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Pause() error {
	_, err := c.doRPC("pause", nil)
	return err
}

func (c *Client) Unpause() error {
	_, err := c.doRPC("unpause", nil)
	return err
}

func (c *Client) SetDebug(d bool) error {
	_, err := c.doRPC("setdebug", d)
	return err
}

func (c *Client) Config() (map[string]interface{}, error) {
	r, err := c.doRPC("config", nil)
	if err != nil {
		return nil, err
	}

	v := make(map[string]interface{})
	if err := json.Unmarshal(r, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) Metrics() (map[string]interface{}, error) {
	r, err := c.doRPC("metrics", nil)
	if err != nil {
		return nil, err
	}

	v := make(map[string]interface{})
	if err := json.Unmarshal(r, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MempoolState returns the collector's latest snapshot.
func (c *Client) MempoolState() (*est.Snapshot, error) {
	r, err := c.doRPC("mempoolstate", nil)
	if err != nil {
		return nil, fmt.Errorf("error doRPC: %v", err)
	}

	s := new(est.Snapshot)
	if err := json.Unmarshal(r, s); err != nil {
		return nil, fmt.Errorf("error unmarshaling snapshot: %v", err)
	}
	return s, nil
}

func (c *Client) doRPC(method string, args interface{}) (json.RawMessage, error) {
	b, err := jsonrpc.EncodeClientRequest(method, args)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc.EncodeClientRequest: %v", err)
	}

	url := "http://" + net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	req, err := http.NewRequest("POST", url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m json.RawMessage
	if err := jsonrpc.DecodeClientResponse(resp.Body, &m); err != nil {
		return nil, fmt.Errorf("jsonrpc.DecodeClientResponse: %v", err)
	}
	return m, nil
}
