// Package storeclient is the stroke store as seen by a remote canvas client:
// the painting stroke endpoints of the HTTP API.
package storeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"event-canvas-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	timeout time.Duration
}

// New targets the API rooted at baseURL, e.g. http://localhost:3000.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

func (c *Client) strokesURL(canvasID string) string {
	return fmt.Sprintf("%s/api/v1/paintings/%s/strokes", c.baseURL, url.PathEscape(canvasID))
}

// requestTimeout fits the client timeout inside the context deadline.
func (c *Client) requestTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}
	return timeout, nil
}

// Append posts one completed stroke.
func (c *Client) Append(ctx context.Context, canvasID string, stroke models.Stroke) error {
	timeout, err := c.requestTimeout(ctx)
	if err != nil {
		return err
	}
	agent := fiber.Post(c.strokesURL(canvasID)).JSON(stroke).Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("append stroke: %w", errors.Join(errs...))
	}
	if code != fiber.StatusCreated {
		return responseError("append stroke", code, body)
	}
	return nil
}

// LoadAll fetches every stroke of the painting in insertion order.
func (c *Client) LoadAll(ctx context.Context, canvasID string) ([]models.Stroke, error) {
	timeout, err := c.requestTimeout(ctx)
	if err != nil {
		return nil, err
	}
	agent := fiber.Get(c.strokesURL(canvasID)).Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("load strokes: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return nil, responseError("load strokes", code, body)
	}
	var resp struct {
		Strokes []models.Stroke `json:"strokes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("load strokes: decode response: %w", err)
	}
	return resp.Strokes, nil
}

func responseError(op string, code int, body []byte) error {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		return fmt.Errorf("%s: %d %s", op, code, resp.Error)
	}
	return fmt.Errorf("%s: unexpected status %d", op, code)
}
