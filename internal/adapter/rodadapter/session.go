// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rodadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	log "github.com/sirupsen/logrus"
)

// Config selects the browser a Session drives.
type Config struct {
	// RemoteURL is a DevTools websocket URL. Empty launches a local Chrome.
	RemoteURL string

	Headless bool

	// NavigationTimeout bounds loading the start URL.
	NavigationTimeout time.Duration
}

// Session owns a browser and one page.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
}

// Open connects to or launches Chrome and navigates to url.
func Open(ctx context.Context, cfg Config, url string) (*Session, error) {
	s := &Session{}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Debugf("browser: launched local chrome at %s", wsURL)
	}

	s.browser = rod.New().ControlURL(wsURL)
	if err := s.browser.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	s.page = page

	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warnf("browser: wait load for %s: %v", url, err)
	}
	return s, nil
}

// Adapter returns a WebAdapter over the session's page.
func (s *Session) Adapter() *Adapter { return New(s.page) }

// Close closes the browser and kills a launched Chrome.
func (s *Session) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	s.cleanup()
	return err
}

func (s *Session) cleanup() {
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
		s.lnch = nil
	}
}
