package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openkoi/openkoi/internal/agent"
	"github.com/openkoi/openkoi/internal/api"
	"github.com/openkoi/openkoi/internal/daemon"
	"github.com/openkoi/openkoi/internal/engine"
	"github.com/openkoi/openkoi/internal/telemetry"
)

// ServeCmd runs the background daemon with its HTTP API.
type ServeCmd struct {
	Listen string `help:"Listen address (overrides daemon.listen)"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	app, err := newApp(cli)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, app.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	prov, err := app.connectProvider(ctx)
	if err != nil {
		return err
	}
	st, err := app.openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	reg := app.loadSkills()
	if app.cfg.Skills.Watch {
		go reg.Watch(ctx, app.log)
	}

	newEngine := func() *engine.Engine {
		ag := agent.New(prov, app.cfg.LLM.Model, app.cfg.LLM.MaxTokens, app.log).WithMemory(st.memory)
		return engine.New(ag, ag, app.buildEvaluator(prov, reg), engine.Options{
			Epsilon:   app.epsilon(),
			Recorders: st.recorders(),
			Logger:    app.log,
		})
	}
	d := daemon.New(newEngine, st.tasks, daemon.Options{
		MaintenanceCron: app.cfg.Daemon.MaintenanceCron,
		Retention:       time.Duration(app.cfg.Daemon.RetentionDays) * 24 * time.Hour,
		Logger:          app.log,
	})
	d.Start()

	listen := c.Listen
	if listen == "" {
		listen = app.cfg.Daemon.Listen
	}
	srv := api.NewServer(d, st.tasks, app.cfg.Iteration, app.log)
	httpSrv := &http.Server{Addr: listen, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	app.log.Info("daemon listening", map[string]interface{}{"addr": listen})

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		app.log.Warn("http shutdown", map[string]interface{}{"error": err.Error()})
	}
	return d.Shutdown(shutCtx)
}
