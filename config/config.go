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

// Package config initializes the process configuration (viper defaults,
// config file, environment overrides) and the logging setup.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pelicanplatform/streamcache/param"
)

type ContextKey string

// EgrpKey is the context key under which the process-wide errgroup is
// stored; long-running goroutines are launched under it so shutdown can
// collect their errors.
const EgrpKey ContextKey = "egrp"

// InitConfig sets the configuration defaults, reads the config file if one
// exists, wires environment-variable overrides, and applies the logging
// configuration.  It is meant to run once, from cobra's OnInitialize.
func InitConfig() {
	viper.SetConfigType("yaml")

	configDir := configBaseDir()
	viper.SetDefault("ConfigDir", configDir)

	viper.SetDefault(param.Logging_Level.GetName(), "info")
	viper.SetDefault(param.Server_WebPort.GetName(), 8042)

	viper.SetDefault(param.StreamCache_DataLocation.GetName(), filepath.Join(configDir, "cache"))
	viper.SetDefault(param.StreamCache_Socket.GetName(), filepath.Join(configDir, "cache", "streamcache.sock"))
	viper.SetDefault(param.StreamCache_HttpListen.GetName(), "localhost:8042")
	viper.SetDefault(param.StreamCache_CheckpointSize.GetName(), "512KiB")
	viper.SetDefault(param.StreamCache_FDCacheSize.GetName(), 256)

	viper.SetDefault(param.TLSSkipVerify.GetName(), false)
	viper.SetDefault(param.Transport_DialerKeepAlive.GetName(), "30s")
	viper.SetDefault(param.Transport_DialerTimeout.GetName(), "10s")
	viper.SetDefault(param.Transport_ExpectContinueTimeout.GetName(), "1s")
	viper.SetDefault(param.Transport_IdleConnTimeout.GetName(), "90s")
	viper.SetDefault(param.Transport_MaxIdleConns.GetName(), 30)
	viper.SetDefault(param.Transport_ResponseHeaderTimeout.GetName(), "10s")
	viper.SetDefault(param.Transport_TLSHandshakeTimeout.GetName(), "15s")

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("streamcache")
	}

	viper.SetEnvPrefix("STREAMCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			cobraInitError(err)
		}
	}

	setLogging()
}

// configBaseDir returns the per-user configuration directory, falling back
// to the working directory when the home directory cannot be determined.
func configBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".streamcache"
	}
	return filepath.Join(home, ".streamcache")
}

func cobraInitError(err error) {
	log.Errorln("Config file initialization failed:", err)
	os.Exit(1)
}

func setLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})

	levelStr := param.Logging_Level.GetString()
	if viper.GetBool("debug") {
		levelStr = "debug"
	}
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Unknown log level %q; defaulting to info", levelStr)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
