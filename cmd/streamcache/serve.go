/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/streamcache/config"
	"github.com/pelicanplatform/streamcache/media_cache"
	"github.com/pelicanplatform/streamcache/param"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache daemon",
	Long: `Start the cache daemon: a unix socket serving object data to
playback clients plus an HTTP endpoint for monitoring and control.`,
	RunE: serveMain,
}

func serveMain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	egrp, ok := ctx.Value(config.EgrpKey).(*errgroup.Group)
	if !ok {
		return errors.New("unable to get errgroup from context")
	}

	sc, err := media_cache.NewStreamCache(ctx, egrp, media_cache.OptionsFromConfig())
	if err != nil {
		return errors.Wrap(err, "failed to initialize the cache engine")
	}

	if err := sc.LaunchListener(ctx, egrp); err != nil {
		return errors.Wrap(err, "failed to launch the cache data socket")
	}
	log.Infoln("Cache data socket listening at", param.StreamCache_Socket.GetString())

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	prometheusMonitor := ginprometheus.NewPrometheus("gin")
	prometheusMonitor.Use(engine)
	sc.Register(ctx, engine.Group("/"))

	srv := &http.Server{
		Addr:    param.StreamCache_HttpListen.GetString(),
		Handler: engine,
	}
	egrp.Go(func() error {
		log.Infoln("Management API listening at", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	egrp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	egrp.Go(func() error {
		select {
		case sig := <-sigs:
			log.Infof("Received signal %v; shutting down", sig)
			return ErrExitOnSignal
		case <-ctx.Done():
			return nil
		}
	})

	return nil
}
