package politeness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/knowledge-engine/chunkstore/internal/config"
)

var (
	ErrDisallowed        = errors.New("URL blocked by robots.txt")
	ErrUnsupportedScheme = errors.New("only HTTP/HTTPS URLs are supported")
)

// PolitenessManager spaces out requests to the same host and honours
// robots.txt when documentation pages are imported over HTTP.
type PolitenessManager struct {
	config config.FetchConfig
	client *http.Client
	logger *logrus.Entry

	mu          sync.Mutex
	hostStates  map[string]*hostState
	robotsCache map[string]*robotsEntry
}

type hostState struct {
	mu              sync.Mutex
	lastRequestTime time.Time
}

// robotsEntry caches robots.txt data; robots is nil when the host has none
type robotsEntry struct {
	robots    *robotstxt.RobotsData
	fetchTime time.Time
}

// NewPolitenessManager creates a new politeness manager. client is used for
// robots.txt lookups; nil means a client with the configured timeout.
func NewPolitenessManager(cfg config.FetchConfig, client *http.Client, logger *logrus.Entry) *PolitenessManager {
	if logger == nil {
		logger = logrus.WithField("component", "politeness_manager")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &PolitenessManager{
		config:      cfg,
		client:      client,
		logger:      logger,
		hostStates:  make(map[string]*hostState),
		robotsCache: make(map[string]*robotsEntry),
	}
}

// Acquire blocks until a request to rawURL may be sent. Requests to the same
// host are serialised and spaced by the configured minimum delay.
func (pm *PolitenessManager) Acquire(ctx context.Context, rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, rawURL)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a host: %s", rawURL)
	}

	if pm.config.RespectRobots && !pm.IsURLAllowed(ctx, parsedURL) {
		return fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}

	return pm.waitForPolitenessDelay(ctx, pm.getOrCreateHostState(parsedURL.Host), parsedURL.Host)
}

// IsURLAllowed checks the URL against the host's robots.txt. Lookup failures allow the request.
func (pm *PolitenessManager) IsURLAllowed(ctx context.Context, u *url.URL) bool {
	robotsData, err := pm.getRobotsData(ctx, u.Scheme, u.Host)
	if err != nil {
		pm.logger.WithError(err).WithField("domain", u.Host).Warn("Failed to get robots.txt, allowing request")
		return true
	}
	if robotsData == nil {
		return true
	}

	group := robotsData.FindGroup(pm.config.UserAgent)
	if group == nil {
		return true
	}
	return group.Test(u.EscapedPath())
}

// HostCount returns the number of hosts with request state
func (pm *PolitenessManager) HostCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.hostStates)
}

func (pm *PolitenessManager) waitForPolitenessDelay(ctx context.Context, state *hostState, host string) error {
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.lastRequestTime.IsZero() {
		if elapsed := time.Since(state.lastRequestTime); elapsed < pm.config.MinDelay {
			waitTime := pm.config.MinDelay - elapsed
			pm.logger.WithFields(logrus.Fields{
				"domain":    host,
				"wait_time": waitTime,
			}).Debug("Waiting for politeness delay")

			timer := time.NewTimer(waitTime)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	state.lastRequestTime = time.Now()
	return nil
}

func (pm *PolitenessManager) getOrCreateHostState(host string) *hostState {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if state, exists := pm.hostStates[host]; exists {
		return state
	}
	state := &hostState{}
	pm.hostStates[host] = state
	pm.logger.WithField("domain", host).Debug("Created new domain state")
	return state
}

// getRobotsData fetches and caches robots.txt data
func (pm *PolitenessManager) getRobotsData(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	pm.mu.Lock()
	entry, exists := pm.robotsCache[host]
	pm.mu.Unlock()

	if exists && time.Since(entry.fetchTime) < pm.config.RobotsCacheDuration {
		return entry.robots, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", pm.config.UserAgent)

	resp, err := pm.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	var robotsData *robotstxt.RobotsData
	if resp.StatusCode != http.StatusNotFound {
		robotsData, err = robotstxt.FromResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
		}
	}

	// Cache the result (even if nil for 404s)
	pm.mu.Lock()
	pm.robotsCache[host] = &robotsEntry{
		robots:    robotsData,
		fetchTime: time.Now(),
	}
	pm.mu.Unlock()

	return robotsData, nil
}
