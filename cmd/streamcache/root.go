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
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/streamcache/config"
)

// ErrExitOnSignal is returned inside the errgroup when the server shuts
// down cleanly on SIGINT/SIGTERM.
var ErrExitOnSignal = errors.New("exit program on signal")

var rootCmd = &cobra.Command{
	Use:   "streamcache",
	Short: "Progressive range cache for streaming media",
	Long: `The streamcache software caches remote media objects at byte-range
granularity: ranges downloaded on behalf of a playback client are persisted
locally, so a replay or a resume serves already-fetched bytes from disk and
only downloads the gaps.`,
}

func Execute() error {
	egrp, egrpCtx := errgroup.WithContext(context.Background())
	ctx := context.WithValue(egrpCtx, config.EgrpKey, egrp)
	exeErr := rootCmd.ExecuteContext(ctx)
	if exeErr != nil {
		log.Errorln("Fatal error occurred at the start of the program. Cleanup started:", exeErr)
	}
	// Wait until all goroutines in the errgroup finish their cleanup
	egrpErr := egrp.Wait()
	if errors.Is(egrpErr, ErrExitOnSignal) {
		fmt.Println("streamcache is safely exited")
		return nil
	}
	if egrpErr != nil {
		log.Errorln("Fatal error occurred that lead to the shutdown of the process:", egrpErr)
		return egrpErr
	}
	return exeErr
}

func init() {
	cobra.OnInitialize(config.InitConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "f", "", "Set the location of the config file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(err)
	}
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}
}
