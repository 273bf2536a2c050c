// Command xiotcp-echo is a demonstration client/server pair for the
// transport in package xiotcp: -listen runs a server that echoes every
// request's header and data back unchanged; -dial sends one request
// and prints the response.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/behrlich/xiotcp"
	"github.com/behrlich/xiotcp/datapath"
	"github.com/behrlich/xiotcp/internal/logging"
	"github.com/behrlich/xiotcp/taskpool"
	"github.com/behrlich/xiotcp/wire"
)

func main() {
	var (
		listenAddr = flag.String("listen", "", "run an echo server bound to this address")
		dialAddr   = flag.String("dial", "", "dial an echo server at this address and send one request")
		header     = flag.String("header", "ping-hdr", "ULP header to send with -dial")
		payload    = flag.String("payload", "ping-body", "payload to send with -dial")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if (*listenAddr == "") == (*dialAddr == "") {
		log.Fatal("exactly one of -listen or -dial is required")
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var err error
	if *listenAddr != "" {
		err = runServer(ctx, *listenAddr, logger)
	} else {
		err = runClient(ctx, *dialAddr, *header, *payload, logger)
	}
	if err != nil {
		logger.Error("xiotcp-echo failed", "error", err)
		os.Exit(1)
	}
}

// runServer accepts connections until ctx is canceled, echoing every
// request it receives back to its sender unchanged.
func runServer(ctx context.Context, addr string, logger *logging.Logger) error {
	cfg := xiotcp.DefaultConfig()
	cfg.Handler = echoHandler(nil, logger)

	ln, err := xiotcp.Listen(addr, cfg)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	logger.Info("echo server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		logger.Info("accepted connection", "conn", conn.ID())
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
	}
}

// runClient dials addr, sends one small SEND request carrying header
// and payload, waits for the echoed response, and prints it.
func runClient(ctx context.Context, addr, header, payload string, logger *logging.Logger) error {
	pending := make(map[*taskpool.Task]chan *taskpool.Task)

	cfg := xiotcp.DefaultConfig()
	cfg.Handler = echoHandler(pending, logger)

	conn, err := xiotcp.Dial(ctx, addr, cfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	logger.Info("connected", "conn", conn.ID(), "addr", addr)

	respCh := make(chan *taskpool.Task, 1)
	submitErr := conn.Do(ctx, func(c *xiotcp.Conn) {
		core := c.Core()
		task, ok := core.Pool.Alloc()
		if !ok {
			respCh <- nil
			return
		}
		if err := datapath.PrepReqInData(core, task, nil, false); err != nil {
			logger.Error("prep_req_in_data failed", "error", err)
			core.Pool.Release(task)
			respCh <- nil
			return
		}
		if err := datapath.PrepReqOutData(core, task, []byte(header), [][]byte{[]byte(payload)}, false); err != nil {
			logger.Error("prep_req_out_data failed", "error", err)
			core.Pool.Release(task)
			respCh <- nil
			return
		}
		task.TLVType = wire.TypeRequest
		task.ImmSendComp = true
		pending[task] = respCh
		if err := c.Enqueue(task); err != nil {
			logger.Error("enqueue failed", "error", err)
			delete(pending, task)
			core.Pool.Release(task)
			respCh <- nil
		}
	})
	if submitErr != nil {
		return fmt.Errorf("submit request: %w", submitErr)
	}

	select {
	case resp := <-respCh:
		if resp == nil {
			return fmt.Errorf("request failed, see log")
		}
		fmt.Printf("header: %s\n", resp.Imsg.Header)
		for _, d := range resp.Imsg.Data {
			fmt.Printf("data:   %s\n", d)
		}
		conn.Do(ctx, func(c *xiotcp.Conn) { c.Core().Pool.Release(resp) })
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for response")
	}
}

// echoHandler is shared by both sides of the demo: a task present in
// pending is a request this side originated whose response just
// arrived, so it's handed to the waiting caller; anything else is a
// freshly delivered request that gets echoed straight back. pending is
// nil on the server side, which never originates requests of its own.
func echoHandler(pending map[*taskpool.Task]chan *taskpool.Task, logger *logging.Logger) func(*xiotcp.Conn, *taskpool.Task) {
	return func(c *xiotcp.Conn, t *taskpool.Task) {
		if ch, ok := pending[t]; ok {
			delete(pending, t)
			ch <- t
			return
		}

		core := c.Core()
		rsp, ok := core.Pool.Alloc()
		if !ok {
			logger.Error("pool exhausted, dropping request", "tid", t.Ltid)
			core.Pool.Release(t)
			return
		}
		if err := datapath.PrepRspWrData(core, t, rsp, t.Imsg.Header, t.Imsg.Data, false); err != nil {
			logger.Error("prep_rsp_wr_data failed", "error", err)
			core.Pool.Release(t)
			core.Pool.Release(rsp)
			return
		}
		rsp.TLVType = wire.TypeResponse
		rsp.ImmSendComp = true
		if err := c.Enqueue(rsp); err != nil {
			logger.Error("enqueue(response) failed", "error", err)
		}
		core.Pool.Release(t)
	}
}
