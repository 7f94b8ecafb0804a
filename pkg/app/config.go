// Package app wires the supplier client, sync engine, scheduler and API
// together into one runnable application.
package app

import (
	"github.com/shopmgr/partsync/pkg/api"
	"github.com/shopmgr/partsync/pkg/engine"
	r "github.com/shopmgr/partsync/pkg/redis"
	"github.com/shopmgr/partsync/pkg/scheduler"
	"github.com/shopmgr/partsync/pkg/supplier"
)

// Config represents the complete application configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9090"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`

	// Dependencies
	Redis    r.Config        `yaml:"redis"`
	Supplier supplier.Config `yaml:"supplier"`

	// Services
	Engine    engine.Config    `yaml:"engine"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	API       api.Config       `yaml:"api"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Redis.Validate(); err != nil {
		return err
	}

	if err := c.Supplier.Validate(); err != nil {
		return err
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	return c.API.Validate()
}
