/*
Copyright 2016 Google Inc. All Rights Reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the console logger. verbose switches to Debug level and,
// with debugFile set, sends everything to that file as well. A debug file
// that cannot be opened leaves the plain logger in place with a warning.
func newLogger(verbose bool, debugFile string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}

	plain, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	if !verbose {
		return plain
	}

	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	if debugFile != "" {
		fh, err := os.OpenFile(debugFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			plain.Warn("cannot open the debug file, continuing without verbose output", zap.String("file", debugFile), zap.Error(err))
			return plain
		}
		fh.Close()
		cfg.OutputPaths = append(cfg.OutputPaths, debugFile)
	}
	verboseLog, err := cfg.Build()
	if err != nil {
		plain.Warn("cannot build the verbose logger", zap.Error(err))
		return plain
	}
	return verboseLog
}
