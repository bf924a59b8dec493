package cmd

import (
	"fmt"

	"github.com/alantheprice/webforge/pkg/builder"
	"github.com/alantheprice/webforge/pkg/configuration"
	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/health"
	"github.com/alantheprice/webforge/pkg/models"
	"github.com/alantheprice/webforge/pkg/utils"
)

// newTransport picks the generation transport named by the config.
func newTransport(cfg *configuration.Config) generation.Transport {
	if cfg.Transport == configuration.TransportUnary {
		return generation.NewUnaryTransport(cfg.APIURL, nil)
	}
	return generation.NewStreamTransport(cfg.StreamURL, cfg.HandshakeTimeout())
}

func newBuilder(cfg *configuration.Config, bus *events.EventBus) *builder.Builder {
	return builder.New(builder.Options{
		APIURL:    cfg.APIURL,
		Transport: newTransport(cfg),
		Monitor:   health.NewMonitor(cfg.HealthTimeout()),
		Registry:  cfg.Registry(),
		Bus:       bus,
		Logger:    utils.GetLogger(),
	})
}

func availabilityLabel(e models.Entry) string {
	label := "not installed"
	if e.Available {
		label = "available"
	}
	if !e.Known {
		label += ", not in config"
	}
	return label
}

func printEntries(entries []models.Entry, defaultModel string) {
	for _, e := range entries {
		marker := " "
		if e.ID == defaultModel {
			marker = "*"
		}
		fmt.Printf("%s %-24s %-28s %s\n", marker, e.ID, e.DisplayName, availabilityLabel(e))
	}
}
