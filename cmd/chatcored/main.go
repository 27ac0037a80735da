/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	chatcore "github.com/btnmasher/chatcore"
	"github.com/btnmasher/chatcore/internal/config"
	"github.com/btnmasher/chatcore/transport/ws"
)

func main() {
	mainCtx, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	wg := conc.NewWaitGroup()
	defer wg.Wait()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatcored: failed to load config:", err)
		os.Exit(1)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	opts := []chatcore.Option{
		chatcore.WithLogger(logger),
		chatcore.WithLogLevel(level),
		chatcore.WithMailboxLength(cfg.Server.MailboxLength),
	}
	if cfg.Logging.Pretty {
		opts = append(opts, chatcore.WithDefaultLogFormatter())
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	server := chatcore.NewServer(opts...)
	defer server.Close()

	log := logger.WithField("component", "main")

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, ws.NewHandler(server, log))

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	wg.Go(func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("chatcored: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("chatcored: listener failed")
		}
	})

	killSignals := make(chan os.Signal, 1)
	signal.Notify(killSignals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-killSignals
		log.Infof("chatcored: initiating shutdown, received signal: %s", sig)

		ctx, cancel := context.WithTimeout(mainCtx, cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("chatcored: graceful HTTP shutdown failed")
		}
		server.Close()
		shutdown()

		sig = <-killSignals
		log.Fatalf("chatcored: forcefully shutting down, received signal: %s", sig)
	}()

	<-mainCtx.Done()
}
