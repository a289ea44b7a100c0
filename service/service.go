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

// Package service is a thin wrapper around github.com/kardianos/service.
package service

import (
	"context"
	"time"

	"github.com/kardianos/service"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Actions accepted by Control.
var Actions = []string{"run", "install", "remove", "start", "stop"}

// ErrBadAction is returned for an action not in Actions.
var ErrBadAction = errors.New("not a valid service action")

// RunFunc is the body of the service. It must return once ctx is done.
type RunFunc func(ctx context.Context) error

type program struct {
	run     RunFunc
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	timeout time.Duration
	log     *zap.Logger
}

func newProgram(ctx context.Context, run RunFunc, log *zap.Logger) *program {
	ctx, cancel := context.WithCancel(ctx)
	return &program{
		run:     run,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		timeout: defaultTimeout,
		log:     log,
	}
}

func (p *program) Start(s service.Service) error {
	go func() {
		defer close(p.done)
		if p.err = p.run(p.ctx); p.err != nil {
			p.log.Error("service body failed", zap.Error(p.err))
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(p.timeout):
		return errors.Errorf("failed to shutdown within timeout %s", p.timeout)
	}
}

// Control creates the service name and performs action on it: "run" runs
// it in the foreground until the OS or an interrupt stops it, the others
// manage its installation with the service manager.
func Control(ctx context.Context, name, displayName string, args []string, run RunFunc, action string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if !validAction(action) {
		return errors.Wrapf(ErrBadAction, "%q", action)
	}
	svcConfig := &service.Config{
		Name:        name,
		DisplayName: displayName,
		Description: "Reconstructs the SQL executed in Oracle SQL trace files.",
		Arguments:   args,
	}
	prg := newProgram(ctx, run, log)
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		return errors.Wrap(err, "service.New")
	}

	switch action {
	case "run":
		if err := svc.Run(); err != nil {
			return errors.Wrapf(err, "running service %s", name)
		}
		return prg.err
	case "install":
		err = svc.Install()
	case "remove":
		err = svc.Uninstall()
	case "start":
		err = svc.Start()
	case "stop":
		err = svc.Stop()
	}
	if err != nil {
		return errors.Wrapf(err, "failed to %s service %s", action, name)
	}
	log.Info("service action done", zap.String("service", name), zap.String("action", action))
	return nil
}

func validAction(action string) bool {
	for _, a := range Actions {
		if a == action {
			return true
		}
	}
	return false
}
