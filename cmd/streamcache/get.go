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

var getCmd = &cobra.Command{
	Use:   "get {source} {destination}",
	Short: "Download an object through the cache",
	Long: `Download a remote object to a local file, persisting the bytes in
the cache as they arrive.  Re-running the command serves the already-cached
portion from disk and only downloads the rest.`,
	Args: cobra.ExactArgs(2),
	Run:  getMain,
}

func init() {
	flagSet := getCmd.Flags()
	flagSet.Int64("offset", 0, "Byte offset at which to start the download")
	flagSet.Int64("length", -1, "Number of bytes to download (default: to the end of the object)")
}

func getMain(cmd *cobra.Command, args []string) {
	source := args[0]
	dest := args[1]

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

	offset, _ := cmd.Flags().GetInt64("offset")
	length, _ := cmd.Flags().GetInt64("length")
	if length < 0 {
		meta, err := sc.Stat(egrpCtx, source)
		if err != nil {
			log.Errorln("Failed to stat object:", err)
			os.Exit(1)
		}
		if meta.ContentLength < 0 {
			log.Errorln("Object has unknown length; pass --length explicitly")
			os.Exit(1)
		}
		length = meta.ContentLength - offset
	}

	fp, err := os.Create(dest)
	if err != nil {
		log.Errorln("Failed to create destination file:", err)
		os.Exit(1)
	}
	defer fp.Close()

	pb := newProgressBar()
	defer pb.shutdown()

	// Only draw progress bars when attached to a terminal
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) != 0 {
		pb.launchDisplay(egrpCtx)
	}

	var writeErr error
	done := make(chan error, 1)
	_, err = sc.BeginFetch(egrpCtx, source, offset, length, media_cache.FetchCallbacks{
		OnBytes: func(p []byte) {
			if writeErr != nil {
				return
			}
			if _, err := fp.Write(p); err != nil {
				writeErr = err
				cancel()
			}
		},
		OnProgress: func(received, expected int64, completed bool) {
			pb.callback(dest, received, expected, completed)
		},
		OnComplete: func(err error) {
			done <- err
		},
	})
	if err != nil {
		log.Errorln("Failed to start the download:", err)
		os.Exit(1)
	}

	if err := <-done; err != nil {
		log.Errorln("Download failed:", err)
		os.Exit(1)
	}
	if writeErr != nil {
		log.Errorln("Failed to write destination file:", writeErr)
		os.Exit(1)
	}
}
