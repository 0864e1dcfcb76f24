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

// Package param provides typed accessors for the process configuration.
// Values are resolved through viper, so the precedence order is flags, then
// environment (STREAMCACHE_*), then the config file, then defaults.
package param

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type StringParam struct {
	name string
}

type BoolParam struct {
	name string
}

type IntParam struct {
	name string
}

type DurationParam struct {
	name string
}

// paramNameToEnvVar converts a parameter name (e.g., "StreamCache.Socket")
// to its environment variable name (e.g., "STREAMCACHE_STREAMCACHE_SOCKET").
func paramNameToEnvVar(paramName string) string {
	envVar := strings.ReplaceAll(paramName, ".", "_")
	return "STREAMCACHE_" + strings.ToUpper(envVar)
}

func (sP StringParam) GetString() string {
	return viper.GetString(sP.name)
}

func (sP StringParam) GetName() string {
	return sP.name
}

func (sP StringParam) IsSet() bool {
	return viper.IsSet(sP.name)
}

func (sP StringParam) GetEnvVarName() string {
	return paramNameToEnvVar(sP.name)
}

func (bP BoolParam) GetBool() bool {
	return viper.GetBool(bP.name)
}

func (bP BoolParam) GetName() string {
	return bP.name
}

func (bP BoolParam) IsSet() bool {
	return viper.IsSet(bP.name)
}

func (bP BoolParam) GetEnvVarName() string {
	return paramNameToEnvVar(bP.name)
}

func (iP IntParam) GetInt() int {
	return viper.GetInt(iP.name)
}

func (iP IntParam) GetName() string {
	return iP.name
}

func (iP IntParam) IsSet() bool {
	return viper.IsSet(iP.name)
}

func (iP IntParam) GetEnvVarName() string {
	return paramNameToEnvVar(iP.name)
}

func (dP DurationParam) GetDuration() time.Duration {
	return viper.GetDuration(dP.name)
}

func (dP DurationParam) GetName() string {
	return dP.name
}

func (dP DurationParam) IsSet() bool {
	return viper.IsSet(dP.name)
}

func (dP DurationParam) GetEnvVarName() string {
	return paramNameToEnvVar(dP.name)
}

var (
	Logging_Level = StringParam{"Logging.Level"}

	Server_WebPort = IntParam{"Server.WebPort"}

	StreamCache_DataLocation   = StringParam{"StreamCache.DataLocation"}
	StreamCache_Socket         = StringParam{"StreamCache.Socket"}
	StreamCache_HttpListen     = StringParam{"StreamCache.HttpListen"}
	StreamCache_CheckpointSize = StringParam{"StreamCache.CheckpointSize"}
	StreamCache_FDCacheSize    = IntParam{"StreamCache.FDCacheSize"}

	TLSSkipVerify = BoolParam{"TLSSkipVerify"}

	Transport_DialerKeepAlive       = DurationParam{"Transport.DialerKeepAlive"}
	Transport_DialerTimeout         = DurationParam{"Transport.DialerTimeout"}
	Transport_ExpectContinueTimeout = DurationParam{"Transport.ExpectContinueTimeout"}
	Transport_IdleConnTimeout       = DurationParam{"Transport.IdleConnTimeout"}
	Transport_MaxIdleConns          = IntParam{"Transport.MaxIdleConns"}
	Transport_ResponseHeaderTimeout = DurationParam{"Transport.ResponseHeaderTimeout"}
	Transport_TLSHandshakeTimeout   = DurationParam{"Transport.TLSHandshakeTimeout"}
)
