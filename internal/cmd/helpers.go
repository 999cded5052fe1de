package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/wowkit/hoard/internal/config"
	"github.com/wowkit/hoard/internal/git"
	"github.com/wowkit/hoard/internal/index"
	"github.com/wowkit/hoard/internal/install"
	"github.com/wowkit/hoard/internal/logging"
	"github.com/wowkit/hoard/internal/reconcile"
)

// app bundles the wired-up collaborators every command needs.
type app struct {
	cfg       *config.Config
	ix        *index.Index
	log       zerolog.Logger
	client    *git.Client
	installer *install.Installer
}

// newApp resolves configuration, locates the addon root and loads the index.
// Addon root resolution order: --addons-dir flag, config file, current
// directory.
func newApp() (*app, error) {
	log := logging.New(os.Stderr, verbose, quiet)

	cfgPath, err := config.Find(configPath, addonsDir)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("config", cfgPath).Msg("loaded config")
	}

	root := addonsDir
	if root == "" {
		root = cfg.AddonsDir
	}
	if root == "" {
		root = "."
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("addon directory not found: %s", root)
	}

	ix, err := index.Load(root)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("root", root).Int("addons", ix.Len()).Msg("index loaded")

	client := git.NewClient()
	return &app{
		cfg:       cfg,
		ix:        ix,
		log:       log,
		client:    client,
		installer: install.New(client, cfg.InterfaceVersion, log),
	}, nil
}

// engine builds the reconciliation engine over the loaded index.
func (a *app) engine() *reconcile.Engine {
	checker := git.NewChecker(a.client, install.CacheRoot(a.ix.Root()))
	return reconcile.New(checker, reconcile.Options{
		Parallelism:    a.cfg.Parallelism,
		IgnorePrefixes: a.cfg.IgnorePrefixes,
	}, a.log)
}
