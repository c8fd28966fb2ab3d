package cmd

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal"
	"github.com/appdockio/appdock/util"
)

// Start launches the update agent. Start must not block, so the agent loop
// runs in its own goroutine until the program context is cancelled.
func (p *program) Start(svc service.Service) error {
	log.Info("starting Appdock service")

	config, err := getConfig()
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := internal.RunAgent(p.ctx, config); err != nil {
			log.Errorf("update agent stopped with error: %v", err)
		}
	}()
	return nil
}

func (p *program) Stop(srv service.Service) error {
	p.cancel()
	p.wg.Wait()
	log.Info("stopped Appdock service")
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs appdock as service",
	RunE: func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)
		cmd.SetOut(cmd.OutOrStdout())

		if err := util.InitLog(logLevel, logFile); err != nil {
			return fmt.Errorf("failed initializing log %v", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		cfg, err := newSVCConfig()
		if err != nil {
			return fmt.Errorf("create service config: %w", err)
		}

		s, err := newSVC(newProgram(ctx, cancel), cfg)
		if err != nil {
			return err
		}

		if err := s.Run(); err != nil {
			return fmt.Errorf("run service: %w", err)
		}
		cmd.Println("Appdock service has stopped")
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "starts appdock service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := newSVCConfig()
		if err != nil {
			return fmt.Errorf("create service config: %w", err)
		}

		s, err := newSVC(newProgram(ctx, cancel), cfg)
		if err != nil {
			return err
		}

		if err := s.Start(); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		cmd.Println("Appdock service has been started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stops appdock service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := newSVCConfig()
		if err != nil {
			return fmt.Errorf("create service config: %w", err)
		}

		s, err := newSVC(newProgram(ctx, cancel), cfg)
		if err != nil {
			return err
		}

		if err := s.Stop(); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}
		cmd.Println("Appdock service has been stopped")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "restarts appdock service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := newSVCConfig()
		if err != nil {
			return fmt.Errorf("create service config: %w", err)
		}

		s, err := newSVC(newProgram(ctx, cancel), cfg)
		if err != nil {
			return err
		}

		if err := s.Restart(); err != nil {
			return fmt.Errorf("restart service: %w", err)
		}
		cmd.Println("Appdock service has been restarted")
		return nil
	},
}

var svcStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "prints appdock service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		running, err := isServiceRunning()
		if err != nil {
			return err
		}

		if running {
			cmd.Println("Appdock service is running")
		} else {
			cmd.Println("Appdock service is not running")
		}
		return nil
	},
}
