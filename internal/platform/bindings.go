package platform

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/itsmostafa/goverticle/internal/engine"
)

// bindings builds the "vertx" object seen by scripts.
//
// deployVerticle and undeployVerticle only schedule the work: the calling
// script still holds its engine, and a synchronous deploy on the same
// engine would wait for itself.
func (c *Container) bindings() engine.Bindings {
	config := make(map[string]string, len(c.config))
	for k, v := range c.config {
		config[k] = v
	}

	return engine.Bindings{
		"config": config,

		"log": engine.HostFunc(func(args ...any) (any, error) {
			c.log.Info(fmt.Sprint(args...), "source", "vertx.log")
			return nil, nil
		}),

		"deployVerticle": engine.HostFunc(func(args ...any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("deployVerticle: main is required")
			}
			main, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("deployVerticle: main must be a string, got %T", args[0])
			}
			instances := 1
			if len(args) > 1 {
				n, err := toInt(args[1])
				if err != nil {
					return nil, fmt.Errorf("deployVerticle: %w", err)
				}
				instances = n
			}

			id := uuid.New().String()
			err := c.async(func() {
				if err := c.deploy(context.Background(), id, main, instances); err != nil {
					c.log.Error("deployVerticle failed", "main", main, "error", err.Error())
				}
			})
			if err != nil {
				return nil, err
			}
			return id, nil
		}),

		"undeployVerticle": engine.HostFunc(func(args ...any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("undeployVerticle: id is required")
			}
			id := fmt.Sprint(args[0])
			return nil, c.async(func() {
				if err := c.Undeploy(context.Background(), id); err != nil {
					c.log.Error("undeployVerticle failed", "id", id, "error", err.Error())
				}
			})
		}),
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("instances must be a number, got %T", v)
	}
}
