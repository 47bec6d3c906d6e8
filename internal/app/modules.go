package app

import (
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/assets"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/modules/fileout"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/modules/mediainput"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/modules/realtime"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/modules/wavespeed"
)

// coreModules is the definitive list of all modules that are compiled into
// the wsflow binary. Each module needs runtime wiring, so the list is built
// per App instance rather than declared once.
func coreModules(cfg *Config, models modelschema.Source, store *assets.Manager) []capability.Module {
	return []capability.Module{
		mediainput.NewModule(),
		wavespeed.NewModule(wavespeed.Config{
			BaseURL: cfg.APIBaseURL,
			APIKey:  cfg.APIKey,
		}, models),
		realtime.NewModule(realtime.Config{
			URL:       cfg.GatewayURL,
			Namespace: cfg.GatewayNamespace,
			APIKey:    cfg.APIKey,
		}),
		fileout.NewModule(store, nil),
	}
}
