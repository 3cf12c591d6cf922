package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
)

// BuildImage creates a Docker image from the provided directory using the
// default Dockerfile. Build output lines are forwarded to onOutput; a build
// error reported in the stream aborts with that message.
func (c *Client) BuildImage(ctx context.Context, dir, tag string, onOutput func(string)) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	return nil
}

// RemoveImage deletes a built image tag, tolerating absence.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	_, err := c.inner.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && !strings.Contains(err.Error(), "No such image") {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

type buildMessage struct {
	Stream      string         `json:"stream"`
	Status      string         `json:"status"`
	ID          string         `json:"id"`
	Progress    string         `json:"progress"`
	Error       string         `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux map[string]interface{} `json:"aux"`
}

func (m buildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		if progress := strings.TrimSpace(m.Progress); progress != "" {
			parts = append(parts, progress)
		}
		return strings.Join(parts, " ")
	}
	if len(m.Aux) > 0 {
		if id, ok := m.Aux["ID"]; ok {
			return fmt.Sprintf("image id: %v", id)
		}
	}
	return ""
}
