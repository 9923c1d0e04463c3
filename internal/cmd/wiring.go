package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/magi/go-controller/internal/config"
	"github.com/danielpatrickdp/magi/go-controller/internal/controller"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
	"github.com/danielpatrickdp/magi/go-controller/internal/session"
)

// #region runtime

// runtime owns everything a command needs to talk to the backends.
type runtime struct {
	clients  generator.Set
	sessions session.Store
	trail    *logging.Trail
	ctrl     *controller.Controller
}

// newRuntime resolves clients, opens the session store and, when enabled,
// the decision trail. The trail shares the sqlite session database unless
// audit.dsn names another one.
func newRuntime(c *config.Config) (*runtime, error) {
	clients, err := generator.NewSetFromEndpoints(c.Endpoints())
	if err != nil {
		return nil, err
	}
	rt := &runtime{clients: clients}

	switch c.Session.Driver {
	case "sqlite":
		store, err := session.NewSQLiteStore(c.Session.DSN)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open session store: %w", err)
		}
		rt.sessions = store
		if c.Audit.Enabled && c.Audit.DSN == "" {
			if rt.trail, err = logging.NewTrail(store.DB()); err != nil {
				rt.Close()
				return nil, fmt.Errorf("open decision trail: %w", err)
			}
		}
	default:
		rt.sessions = session.NewMemoryStore()
	}

	if c.Audit.Enabled && rt.trail == nil {
		if rt.trail, err = logging.OpenTrail(c.Audit.DSN); err != nil {
			rt.Close()
			return nil, fmt.Errorf("open decision trail: %w", err)
		}
	}

	opts := []controller.Option{controller.WithLogger(logger)}
	if rt.trail != nil {
		opts = append(opts, controller.WithAuditor(rt.trail))
	}
	rt.ctrl = controller.New(clients, rt.sessions, c, opts...)
	return rt, nil
}

// Close releases the trail, the session store and client connections.
func (rt *runtime) Close() error {
	var errs []error
	if rt.trail != nil {
		errs = append(errs, rt.trail.Close())
	}
	if rt.sessions != nil {
		errs = append(errs, rt.sessions.Close())
	}
	if rt.clients != nil {
		errs = append(errs, rt.clients.Close())
	}
	return errors.Join(errs...)
}

// #endregion runtime

// #region overrides

// loadOverrides reads a persona override file:
//
//	melchior: |
//	  Focus on developer experience.
//	caspar: Prefer boring technology.
func loadOverrides(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for name, text := range raw {
		p, err := prompts.ParsePersona(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out[string(p)] = text
	}
	return out, nil
}

// #endregion overrides

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
