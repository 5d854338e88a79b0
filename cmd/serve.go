// Copyright 2025 The rsocketd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsocketd/rsocketd/common"
	"github.com/rsocketd/rsocketd/confengine"
	"github.com/rsocketd/rsocketd/controller"
	"github.com/rsocketd/rsocketd/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run in responder server mode",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		ctr, err := controller.New(cfg, common.GetBuildInfo())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create controller: %v\n", err)
			os.Exit(1)
		}
		if err := ctr.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start controller: %v\n", err)
			os.Exit(1)
		}
		logger.Infof("%s serving rsocket on %v", common.GetBuildInfo(), ctr.Addrs())

		// SIGHUP 触发配置热更新 其余信号走关闭路径
		// 热更新只影响新链接的处理器配置 已建立的链接保持不动
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

		var reloadTotal int
		for sig := range sigCh {
			if sig != syscall.SIGHUP {
				logger.Infof("signal %s received, shutting down", sig)
				if err := ctr.Stop(); err != nil {
					logger.Errorf("controller stopped with error: %v", err)
				}
				return
			}

			reloadTotal++
			cfg, err := confengine.LoadConfigPath(configPath)
			if err != nil {
				logger.Errorf("reload #%d: load config failed, keeping current config: %v", reloadTotal, err)
				continue
			}

			start := time.Now()
			if err := ctr.Reload(cfg); err != nil {
				logger.Errorf("reload #%d failed: %v", reloadTotal, err)
				continue
			}
			logger.Infof("reload #%d done in %s, %d connections kept", reloadTotal, time.Since(start), len(ctr.Stats()))
		}
	},
	Example: "# rsocketd serve --config rsocketd.yaml",
}

var configPath string

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "rsocketd.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
}
