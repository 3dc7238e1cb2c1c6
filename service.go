package main

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/rpc"
	jsonrpc "github.com/gorilla/rpc/json"
	"github.com/rcrowley/go-metrics"

	est "github.com/joltfun/btcflow/estimate"
)

type Service struct {
	BtcFlow *BtcFlow
	DLog    *DebugLog
	Cfg     config
}

func (s *Service) ListenAndServe() error {
	var methods = map[string]string{
		"stop":          "Service.Stop",
		"status":        "Service.Status",
		"estimates":     "Service.Estimates",
		"estimatefee":   "Service.EstimateFee",
		"predictscores": "Service.PredictScores",
		"flow":          "Service.Flow",
		"mempool":       "Service.Mempool",
		"history":       "Service.History",
		"pause":         "Service.Pause",
		"unpause":       "Service.Unpause",
		"setdebug":      "Service.SetDebug",
		"config":        "Service.Config",
		"metrics":       "Service.Metrics",
		"mempoolstate":  "Service.MempoolState",
	}
	srv := rpc.NewServer()
	srv.RegisterCodec(jsonrpc.NewCodec(), "application/json")
	srv.RegisterService(s, "")
	srv.RegisterCustomNames(methods)
	http.Handle("/", srv)
	addr := net.JoinHostPort(s.Cfg.AppRPC.Host, s.Cfg.AppRPC.Port)
	s.DLog.Logger.Println("RPC server listening on", addr)
	return http.ListenAndServe(addr, nil)
}

func (s *Service) Stop(r *http.Request, args *struct{}, reply *struct{}) error {
	go s.BtcFlow.Stop()
	return nil
}

func (s *Service) Status(r *http.Request, args *struct{}, reply *map[string]string) error {
	*reply = s.BtcFlow.Status()
	return nil
}

func (s *Service) Estimates(r *http.Request, args *struct{}, reply **est.Schedule) error {
	sched, err := s.BtcFlow.Schedule()
	if err != nil {
		return err
	}
	*reply = sched
	return nil
}

// EstimateFee returns the recommended fee rate for a single (target,
// probability) pair from the current schedule.
func (s *Service) EstimateFee(r *http.Request, args *[]interface{}, reply *interface{}) error {
	if len(*args) != 2 {
		return fmt.Errorf("want [target, prob] arguments")
	}
	target, ok := (*args)[0].(float64)
	if !ok {
		return fmt.Errorf("target must be a number")
	}
	prob, ok := (*args)[1].(float64)
	if !ok {
		return fmt.Errorf("prob must be a number")
	}

	sched, err := s.BtcFlow.Schedule()
	if err != nil {
		return err
	}
	cells, ok := sched.Estimates.ByMinute[fmt.Sprintf("%d", int64(target))]
	if !ok {
		return fmt.Errorf("no estimates for target %v", target)
	}
	cell, ok := cells[strconv.FormatFloat(prob, 'f', -1, 64)]
	if !ok {
		return fmt.Errorf("no estimates for prob %v", prob)
	}
	*reply = cell
	return nil
}

func (s *Service) PredictScores(r *http.Request, args *struct{}, reply *map[string]map[string]float64) error {
	attained, exceeded, err := s.BtcFlow.PredictScores()
	if err != nil {
		return err
	}
	scores := make(map[string]map[string]float64)
	scores["attained"] = horizonMap(attained)
	scores["exceeded"] = horizonMap(exceeded)
	*reply = scores
	return nil
}

func (s *Service) Flow(r *http.Request, args *struct{}, reply *map[string]map[string]float64) error {
	flow, err := s.BtcFlow.FlowRates()
	if err != nil {
		return err
	}
	*reply = flow
	return nil
}

func (s *Service) Mempool(r *http.Request, args *struct{}, reply *map[string]float64) error {
	weights, err := s.BtcFlow.MempoolWeights()
	if err != nil {
		return err
	}
	*reply = weights
	return nil
}

func (s *Service) History(r *http.Request, args *[]int64, reply *[]*est.Schedule) error {
	if len(*args) != 2 {
		return fmt.Errorf("want [start, end] arguments")
	}
	scheds, err := s.BtcFlow.History((*args)[0], (*args)[1])
	if err != nil {
		return err
	}
	*reply = scheds
	return nil
}

func (s *Service) Pause(r *http.Request, args *struct{}, reply *struct{}) error {
	s.BtcFlow.Pause(true)
	return nil
}

func (s *Service) Unpause(r *http.Request, args *struct{}, reply *struct{}) error {
	s.BtcFlow.Pause(false)
	return nil
}

func (s *Service) SetDebug(r *http.Request, args *bool, reply *bool) error {
	s.DLog.SetDebug(*args)
	*reply = *args
	return nil
}

func (s *Service) Config(r *http.Request, args *struct{}, reply *interface{}) error {
	c := s.Cfg
	// Hide the password just in case
	c.BitcoinRPC.Password = "********"
	*reply = c
	return nil
}

func (s *Service) Metrics(r *http.Request, args *struct{}, reply *metrics.Registry) error {
	*reply = metrics.DefaultRegistry
	return nil
}

func (s *Service) MempoolState(r *http.Request, args *struct{}, reply **est.Snapshot) error {
	state := s.BtcFlow.State()
	if state == nil {
		return fmt.Errorf("mempool not available")
	}
	*reply = state
	return nil
}

func horizonMap(v map[int64]float64) map[string]float64 {
	m := make(map[string]float64, len(v))
	for h, x := range v {
		m[fmt.Sprintf("%d", h)] = x
	}
	return m
}
