// CLAUDE:SUMMARY reelscan CLI: one-shot run, HTTP+MCP server with route watching, MCP over stdio, and a QUIC MCP client.
// Command reelscan captures short-form videos and recovers their on-screen
// text.
//
// Usage:
//
//	reelscan run -target C0dE_1 [-stages download,frames,ocr] [-config reelscan.yaml]
//	reelscan serve [-config reelscan.yaml]
//	reelscan mcp [-config reelscan.yaml]              # MCP over stdio
//	reelscan call -addr host:9444 -target C0dE_1     # MCP over QUIC client
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/reelscan/api"
	"github.com/hazyhaar/reelscan/capture"
	"github.com/hazyhaar/reelscan/config"
	"github.com/hazyhaar/reelscan/connectivity"
	"github.com/hazyhaar/reelscan/ffmpeg"
	"github.com/hazyhaar/reelscan/internal/browser"
	"github.com/hazyhaar/reelscan/mcpquic"
	"github.com/hazyhaar/reelscan/ocr"
	"github.com/hazyhaar/reelscan/pipeline"
	"github.com/hazyhaar/reelscan/store"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "run":
		err = runCmd(ctx, args)
	case "serve":
		err = serveCmd(ctx, args)
	case "mcp":
		err = mcpCmd(ctx, args)
	case "call":
		err = callCmd(ctx, args)
	default:
		usage()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("reelscan: fatal", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: reelscan run|serve|mcp|call [flags]")
	os.Exit(2)
}

// app is the wired service graph.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	router   *connectivity.Router
	browser  *browser.Manager
	pipeline *pipeline.Pipeline
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

// newApp wires the browser, media engine, OCR routes, run store and
// pipeline from cfg. Logs go to stderr: stdout carries reports and MCP.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger}

	a.router = connectivity.New(connectivity.WithLogger(logger))
	a.router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory(logger))

	if cfg.StoreEnabled() {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		a.store = st
		if err := ocr.SeedRoutes(ctx, st.DB(), cfg.OCRService); err != nil {
			a.Close()
			return nil, err
		}
		if err := a.router.Reload(ctx, st.DB()); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		// Without a store the routes live in a throwaway database. Shared
		// cache keeps every pooled connection on the same one.
		mem, err := store.Open("file:reelscan_routes?mode=memory&cache=shared")
		if err != nil {
			return nil, err
		}
		err = ocr.SeedRoutes(ctx, mem.DB(), cfg.OCRService)
		if err == nil {
			err = a.router.Reload(ctx, mem.DB())
		}
		mem.Close()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	eng := ffmpeg.New(withLogger(cfg.FFmpeg, logger))
	if !eng.Available() {
		logger.Warn("reelscan: ffmpeg or ffprobe not found, muxing and sampling will fail")
	}

	bcfg := cfg.Browser
	bcfg.Logger = logger
	a.browser = browser.NewManager(bcfg)

	ccfg := cfg.Capture
	ccfg.Logger = logger
	capturer := capture.New(ccfg, browser.NewOpener(a.browser), nil)

	pcfg := cfg.Pipeline
	pcfg.Logger = logger
	a.pipeline = pipeline.New(pcfg, pipeline.Deps{
		Capturer: capturer,
		Engine:   eng,
		OCR:      ocr.NewClient(a.router, logger),
		Store:    a.store,
	})
	a.pipeline.RegisterConnectivity(a.router)
	return a, nil
}

func withLogger(c ffmpeg.Config, l *slog.Logger) ffmpeg.Config {
	c.Logger = l
	return c
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.router != nil {
		a.router.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) mcpServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "reelscan", Version: version}, nil)
	a.pipeline.RegisterMCP(srv)
	return srv
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to reelscan.yaml")
	target := fs.String("target", "", "target media identifier")
	stages := fs.String("stages", "", "comma-separated stages: download, frames, ocr (default: all)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := a.pipeline.Request(ctx, pipeline.RunRequest{TargetID: *target, Stages: *stages})
	if err != nil {
		return err
	}
	rep, runErr := a.pipeline.Run(ctx, req)
	if rep != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rep)
	}
	return runErr
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to reelscan.yaml")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if a.store != nil {
		go a.router.Watch(ctx, a.store.DB(), cfg.RouteWatch)
	}

	mcpSrv := a.mcpServer()
	r := chi.NewRouter()
	r.Mount("/", api.New(a.pipeline, a.store, logger).Handler())
	if cfg.MCP.HTTPPath != "off" {
		r.Handle(cfg.MCP.HTTPPath, mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}

	if cfg.MCP.QUICAddr != "" {
		var tlsCfg *tls.Config
		if cfg.MCP.CertFile != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(cfg.MCP.CertFile, cfg.MCP.KeyFile)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			return fmt.Errorf("mcp quic tls: %w", err)
		}
		ql, err := mcpquic.Listen(cfg.MCP.QUICAddr, tlsCfg, mcpSrv, logger)
		if err != nil {
			return fmt.Errorf("mcp quic listen: %w", err)
		}
		defer ql.Close()
		go func() {
			if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("reelscan: mcp quic", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// A run can hold the connection for the whole capture and OCR.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("reelscan: listening", "addr", cfg.Listen, "mcp_http", cfg.MCP.HTTPPath, "mcp_quic", cfg.MCP.QUICAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("reelscan: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func mcpCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to reelscan.yaml")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.mcpServer().Run(ctx, &mcp.StdioTransport{})
}

func callCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:9444", "MCP QUIC server address")
	target := fs.String("target", "", "target media identifier")
	stages := fs.String("stages", "", "comma-separated stages")
	insecure := fs.Bool("insecure", false, "skip server certificate verification")
	fs.Parse(args)

	c, err := mcpquic.Dial(ctx, *addr, mcpquic.ClientTLSConfig(*insecure))
	if err != nil {
		return err
	}
	defer c.Close()

	callArgs := pipeline.RunRequest{TargetID: *target, Stages: *stages}
	text, err := c.Call(ctx, pipeline.ServiceRun, callArgs)
	if text != "" {
		fmt.Println(text)
	}
	return err
}
