// Package nodezmq implements the collect.TxFeed abstraction over bitcoind's
// ZeroMQ "hashtx" notifications (-zmqpubhashtx).
package nodezmq

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sync"
	"syscall"

	"github.com/pebbe/zmq4"
)

type Config struct {
	// Endpoint is the node's ZMQ publisher, e.g. tcp://127.0.0.1:28332.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	Logger *log.Logger `yaml:"-" json:"-"`
}

// Feed subscribes to hashtx notifications and emits txids. ZMQ delivery is
// best effort; consumers must tolerate gaps and duplicates.
type Feed struct {
	cfg Config

	txids chan string
	ctx   *zmq4.Context
	sub   *zmq4.Socket

	done chan struct{}
	wg   sync.WaitGroup
	mux  sync.Mutex
}

func NewFeed(cfg Config) *Feed {
	return &Feed{
		cfg:   cfg,
		txids: make(chan string, 100),
		done:  make(chan struct{}),
	}
}

func (f *Feed) Txids() <-chan string {
	return f.txids
}

func (f *Feed) Run() error {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return fmt.Errorf("zmq context: %v", err)
	}
	sub, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		ctx.Term()
		return fmt.Errorf("zmq socket: %v", err)
	}
	// A receive timeout lets the loop notice Stop without a pending
	// message.
	if err := sub.SetRcvtimeo(1e9); err != nil {
		sub.Close()
		ctx.Term()
		return err
	}
	if err := sub.Connect(f.cfg.Endpoint); err != nil {
		sub.Close()
		ctx.Term()
		return fmt.Errorf("zmq connect %s: %v", f.cfg.Endpoint, err)
	}
	if err := sub.SetSubscribe("hashtx"); err != nil {
		sub.Close()
		ctx.Term()
		return err
	}
	f.ctx, f.sub = ctx, sub
	f.logger().Println("ZMQ feed subscribed on", f.cfg.Endpoint)

	f.wg.Add(1)
	go f.recvLoop()
	return nil
}

func (f *Feed) Stop() {
	f.mux.Lock()
	select {
	case <-f.done: // Already stopped
		f.mux.Unlock()
		return
	default:
		close(f.done)
	}
	f.mux.Unlock()
	f.wg.Wait()
	if f.sub != nil {
		f.sub.Close()
		f.ctx.Term()
	}
}

func (f *Feed) recvLoop() {
	defer f.wg.Done()
	logger := f.logger()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		msgs, err := f.sub.RecvMessageBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) { // recv timeout
				continue
			}
			logger.Println("[ERROR] ZMQ recv:", err)
			continue
		}
		if len(msgs) < 2 || string(msgs[0]) != "hashtx" {
			logger.Println("[WARNING] unexpected ZMQ message")
			continue
		}
		txid := hex.EncodeToString(msgs[1])
		select {
		case f.txids <- txid:
		case <-f.done:
			return
		default:
			// The collector is behind; drop rather than block. The
			// snapshot backfill recovers dropped arrivals.
			logger.Println("[WARNING] ZMQ feed channel full, dropping", txid)
		}
	}
}

func (f *Feed) logger() *log.Logger {
	if f.cfg.Logger != nil {
		return f.cfg.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}
