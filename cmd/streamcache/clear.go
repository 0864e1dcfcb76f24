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
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/streamcache/media_cache"
)

var clearCmd = &cobra.Command{
	Use:   "clear [source]",
	Short: "Remove cached data for an object, or the whole cache",
	Args:  cobra.MaximumNArgs(1),
	Run:   clearMain,
}

func init() {
	clearCmd.Flags().Bool("all", false, "Clear every cached object")
}

func clearMain(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		log.Errorln("Either a source URL or --all must be given")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	egrp, egrpCtx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		if err := egrp.Wait(); err != nil {
			log.Debugln("Cleanup error:", err)
		}
	}()

	sc, err := media_cache.NewStreamCache(egrpCtx, egrp, media_cache.OptionsFromConfig())
	if err != nil {
		log.Errorln("Failed to initialize the cache engine:", err)
		os.Exit(1)
	}

	if all {
		err = sc.ClearAll()
	} else {
		err = sc.Clear(args[0])
	}
	if err != nil {
		log.Errorln("Failed to clear cached data:", err)
		os.Exit(1)
	}
}
