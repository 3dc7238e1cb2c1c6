// Package nodeapi implements the data collection abstractions in package
// collect by using the Bitcoin Core JSON-RPC API.
package nodeapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	col "github.com/joltfun/btcflow/collect"
	est "github.com/joltfun/btcflow/estimate"
)

// Getters returns the snapshot and tx-detail getters used by the collector.
func Getters(timeNow UnixNow, cfg Config) (col.MempoolStateGetter, col.TxDetailGetter, error) {
	c := newClient(cfg)
	// Probe the connection early so misconfiguration fails at startup.
	if _, err := c.getNetworkInfo(); err != nil {
		return nil, nil, err
	}
	getState := func() (*est.Snapshot, error) {
		rawEntries, err := c.pollMempool()
		if err != nil {
			return nil, err
		}
		entries := make(map[string]est.SnapEntry, len(rawEntries))
		for txid, rawEntry := range rawEntries {
			entries[txid] = est.SnapEntry{
				FeeRate: rawEntry.SatPerVByte(),
				Weight:  rawEntry.Weight_,
				Time:    rawEntry.Time_,
			}
		}
		return &est.Snapshot{Time: timeNow(), Entries: entries}, nil
	}
	getTx := func(txid string) (*est.Tx, error) {
		entry, err := c.getMempoolEntry(txid)
		if err != nil {
			return nil, err
		}
		return &est.Tx{
			Txid:    txid,
			FeeRate: entry.SatPerVByte(),
			Weight:  entry.Weight_,
			Time:    entry.Time_,
		}, nil
	}
	return getState, getTx, nil
}

// Unix time in seconds
type UnixNow func() int64

type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	// HTTP timeout in seconds
	Timeout int `json:"timeout" yaml:"timeout"`
}

type request struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Id      int64       `json:"id"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   interface{}     `json:"error"`
	Id      int64           `json:"id"`
}

type client struct {
	currid     int64
	httpclient *http.Client
	cfg        Config
}

func newClient(cfg Config) *client {
	c := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	return &client{cfg: cfg, httpclient: c}
}

func (c *client) newRequest(method string, params interface{}) *request {
	return &request{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		Id:      atomic.AddInt64(&c.currid, 1),
	}
}

func (c *client) getNetworkInfo() (map[string]interface{}, error) {
	var info map[string]interface{}
	req := c.newRequest("getnetworkinfo", nil)
	res, err := c.send(req)
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(res, &info)
	return info, err
}

// pollMempool fetches the complete pool contents.
func (c *client) pollMempool() (map[string]*MempoolEntry, error) {
	req := c.newRequest("getrawmempool", []bool{true})
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	var entries map[string]*MempoolEntry
	err = json.Unmarshal(resp, &entries)
	return entries, err
}

func (c *client) getMempoolEntry(txid string) (*MempoolEntry, error) {
	req := c.newRequest("getmempoolentry", []string{txid})
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	entry := new(MempoolEntry)
	err = json.Unmarshal(resp, entry)
	return entry, err
}

// Send an RPC req.
func (c *client) send(rpcreq *request) (json.RawMessage, error) {
	reqbody, err := json.Marshal(rpcreq)
	if err != nil {
		return nil, err
	}
	respbody, err := c.sendhttp(reqbody)
	if err != nil {
		return nil, err
	}
	var rpcresp response
	if err := json.Unmarshal(respbody, &rpcresp); err != nil {
		return nil, err
	}
	// Error on mismatched Id field
	if rpcresp.Id != rpcreq.Id {
		return nil, fmt.Errorf("mismatched RPC id")
	}
	if rpcresp.Error != nil {
		return nil, fmt.Errorf("%v", rpcresp.Error)
	}
	return rpcresp.Result, nil
}

// Send the HTTP request
func (c *client) sendhttp(body []byte) ([]byte, error) {
	url := "http://" + net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%v: %s", resp.Status, b)
	}

	return b, nil
}
