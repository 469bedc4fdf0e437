// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Command chezdav serves a local directory as a plain-TCP WebDAV share.
package main

import (
	"compress/gzip"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"
	"time"

	"github.com/fenthope/reco"
	"github.com/go-json-experiment/json"
	"github.com/infinite-iroha/toukadav"

	"github.com/infinite-iroha/toukadav/internal/htdigest"
	"github.com/infinite-iroha/toukadav/webdav"
)

type config struct {
	Port       int       `json:"port"`
	Local      bool      `json:"local"`
	Public     bool      `json:"public"`
	Path       string    `json:"path"`
	Htdigest   string    `json:"htdigest,omitempty"`
	Realm      string    `json:"realm"`
	ReadOnly   bool      `json:"readonly"`
	NoMDNS     bool      `json:"no_mdns"`
	Mounts     mountFlag `json:"mounts,omitempty"`
	DumpConfig bool      `json:"-"`
}

// mountSpec grafts an additional real directory into the share's URL
// space at a path other than the root, e.g. "--mount /backup=/srv/backup".
type mountSpec struct {
	URLPath  string `json:"url_path"`
	RealPath string `json:"real_path"`
}

// mountFlag collects repeated --mount urlpath=realpath flags.
type mountFlag []mountSpec

func (m *mountFlag) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, len(*m))
	for i, s := range *m {
		parts[i] = s.URLPath + "=" + s.RealPath
	}
	return strings.Join(parts, ",")
}

func (m *mountFlag) Set(v string) error {
	urlPath, realPath, ok := strings.Cut(v, "=")
	if !ok || urlPath == "" || realPath == "" {
		return fmt.Errorf("mount %q: expected urlpath=realpath", v)
	}
	*m = append(*m, mountSpec{URLPath: urlPath, RealPath: realPath})
	return nil
}

func defaultRealm() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return fmt.Sprintf("%s's public share", u.Username)
	}
	return "chezdav"
}

func parseFlags() (config, error) {
	var cfg config
	flag.IntVar(&cfg.Port, "port", 8080, "port to listen on")
	flag.BoolVar(&cfg.Local, "local", false, "listen on loopback only")
	flag.BoolVar(&cfg.Public, "public", false, "listen on all interfaces")
	flag.StringVar(&cfg.Path, "path", "", "path to export (defaults to the home directory)")
	flag.StringVar(&cfg.Htdigest, "htdigest", "", "path to an htdigest file")
	flag.StringVar(&cfg.Realm, "realm", "", "digest realm")
	flag.BoolVar(&cfg.ReadOnly, "readonly", false, "read-only access")
	flag.BoolVar(&cfg.NoMDNS, "no-mdns", false, "skip mDNS service announcement")
	flag.Var(&cfg.Mounts, "mount", "additional urlpath=realpath directory to graft into the share (repeatable)")
	flag.BoolVar(&cfg.DumpConfig, "dump-config", false, "print the effective configuration as JSON and exit")
	flag.Parse()

	if cfg.Local && cfg.Public {
		return cfg, fmt.Errorf("--local and --public are mutually exclusive")
	}
	if !cfg.Local && !cfg.Public {
		cfg.Public = true
	}
	if cfg.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.Path = home
	}
	if cfg.Realm == "" {
		cfg.Realm = defaultRealm()
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chezdav: %v\n", err)
		os.Exit(1)
	}

	if cfg.DumpConfig {
		b, err := json.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chezdav: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}

	logger := touka.NewLogger(reco.Config{
		Level:      reco.LevelInfo,
		Mode:       reco.ModeText,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Async:      true,
	})

	engine := touka.New()
	engine.SetLogger(logger)
	engine.Use(touka.Recovery())
	// Multistatus/property bodies are XML and can get large for deep
	// PROPFINDs; compress them for clients that advertise gzip support.
	engine.Use(touka.Gzip(gzip.DefaultCompression))

	var validator *htdigest.Validator
	if cfg.Htdigest != "" {
		f, err := os.Open(cfg.Htdigest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chezdav: opening htdigest file: %v\n", err)
			os.Exit(1)
		}
		parsed, err := htdigest.Parse(f, cfg.Realm)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "chezdav: %v\n", err)
			os.Exit(1)
		}
		validator = htdigest.NewValidator(parsed)
	}
	engine.Use(engine.UseIf(validator != nil, digestAuthMiddleware(validator)))

	// A plain liveness probe, adapted straight from the standard library
	// rather than reimplemented as a native handler: it needs nothing
	// from the request, so there's no reason to touch touka.Context for it.
	engine.GET("/healthz", touka.AdapterStdFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h, err := buildHandler(engine, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chezdav: %v\n", err)
		os.Exit(1)
	}

	if !cfg.NoMDNS {
		logger.Warnf("mDNS announcement is not available in this build; pass --no-mdns to silence this message")
	}

	addr := listenAddress(cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Infof("chezdav serving %s on %s (readonly=%v)", cfg.Path, addr, cfg.ReadOnly)
	if err := engine.RunShutdownWithContext(addr, ctx); err != nil {
		logger.Errorf("chezdav: server error: %v", err)
		os.Exit(1)
	}
}

// buildHandler mounts cfg.Path at the share's root. With no --mount flags
// this is a plain directory share (webdav.Serve); with one or more, the
// root and every mount point are grafted into a VirtualTreeFS instead, so
// a single share can stitch together directories that don't live under a
// common real parent.
func buildHandler(engine *touka.Engine, cfg config, logger *reco.Logger) (*webdav.Handler, error) {
	if len(cfg.Mounts) == 0 {
		h, err := webdav.Serve(engine, "", cfg.Path)
		if err != nil {
			return nil, err
		}
		h.ReadOnly = cfg.ReadOnly
		h.Logger = logger
		return h, nil
	}

	rootFS, err := webdav.NewOSFS(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("mounting %s: %w", cfg.Path, err)
	}
	root := webdav.NewVirtualRoot()
	root.Graft("/", cfg.Path, rootFS)
	for _, m := range cfg.Mounts {
		mfs, err := webdav.NewOSFS(m.RealPath)
		if err != nil {
			return nil, fmt.Errorf("mounting %s at %s: %w", m.RealPath, m.URLPath, err)
		}
		root.Graft(m.URLPath, m.RealPath, mfs)
	}

	return webdav.Register(engine, "", &webdav.Config{
		FileSystem: webdav.NewVirtualTreeFS(root),
		ReadOnly:   cfg.ReadOnly,
		Logger:     logger,
	}), nil
}

func listenAddress(cfg config) string {
	host := ""
	if cfg.Local {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Port))
}

// digestAuthMiddleware enforces RFC 2617 Digest authentication on every
// request using the given validator, matching chezdav's --htdigest option.
func digestAuthMiddleware(v *htdigest.Validator) touka.HandlerFunc {
	return func(c *touka.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth != "" && v.Verify(auth, c.Request.Method) {
			c.Next()
			return
		}
		c.Writer.Header().Set("WWW-Authenticate", v.Challenge())
		c.AbortWithStatus(401)
	}
}
