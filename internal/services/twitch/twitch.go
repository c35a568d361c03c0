package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

const streamInfoKey = "stream_info"

// Client looks up live stream metadata from the Helix API. Results are
// cached briefly so repeated prompts do not hammer the endpoint.
type Client struct {
	cfg        *config.TwitchConfig
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	logger     *logrus.Logger
}

// NewClient creates a Twitch metadata client
func NewClient(cfg *config.TwitchConfig, logger *logrus.Logger) *Client {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Client{
		cfg:     cfg,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  cache.New(ttl, ttl*2),
		logger: logger,
	}
}

// StreamInfo returns current title, game and broadcaster name. A lookup
// failure or an offline stream yields empty metadata fields rather than
// an error; the enrichment assembler treats them as absent.
func (c *Client) StreamInfo(ctx context.Context) models.StreamInfo {
	if val, found := c.cache.Get(streamInfoKey); found {
		return val.(models.StreamInfo)
	}

	info := models.StreamInfo{Broadcaster: c.cfg.Broadcaster}

	fetched, err := c.fetchStreamInfo(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to fetch stream info")
	} else {
		info = fetched
	}

	c.cache.SetDefault(streamInfoKey, info)
	return info
}

func (c *Client) fetchStreamInfo(ctx context.Context) (models.StreamInfo, error) {
	info := models.StreamInfo{Broadcaster: c.cfg.Broadcaster}

	if c.cfg.Broadcaster == "" || c.cfg.ClientID == "" || c.cfg.Token == "" {
		return info, fmt.Errorf("%w: twitch credentials not configured", models.ErrConfiguration)
	}

	endpoint := fmt.Sprintf("%s/streams?user_login=%s", c.baseURL, url.QueryEscape(c.cfg.Broadcaster))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return info, err
	}

	req.Header.Set("Client-Id", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return info, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return info, &models.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Data []struct {
			UserName string `json:"user_name"`
			GameName string `json:"game_name"`
			Title    string `json:"title"`
		} `json:"data"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return info, err
	}

	// Empty data means the stream is offline
	if len(result.Data) == 0 {
		return info, nil
	}

	stream := result.Data[0]
	if stream.UserName != "" {
		info.Broadcaster = stream.UserName
	}
	info.Title = stream.Title
	info.Game = stream.GameName

	return info, nil
}
