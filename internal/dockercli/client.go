// Package dockercli shells out to the docker CLI and parses its
// line-oriented JSON output into typed records. Calls tolerate a missing
// or stopped daemon by returning empty results instead of errors.
package dockercli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/solstice-ops/solstice/internal/cmdrun"
)

// Container is one row of `docker ps`.
type Container struct {
	ID        string
	Name      string
	Image     string
	State     string
	Status    string
	Ports     string
	CreatedAt string
}

// Image is one row of `docker images`.
type Image struct {
	ID         string
	Repository string
	Tag        string
	Size       string
	CreatedAt  string
}

// rawContainer mirrors docker's `--format {{json .}}` keys. Field mapping
// to the typed record happens once at parse time.
type rawContainer struct {
	ID        string `json:"ID"`
	Names     string `json:"Names"`
	Image     string `json:"Image"`
	State     string `json:"State"`
	Status    string `json:"Status"`
	Ports     string `json:"Ports"`
	CreatedAt string `json:"CreatedAt"`
}

type rawImage struct {
	ID         string `json:"ID"`
	Repository string `json:"Repository"`
	Tag        string `json:"Tag"`
	Size       string `json:"Size"`
	CreatedAt  string `json:"CreatedAt"`
}

// CLI wraps docker invocations.
type CLI struct {
	runner *cmdrun.Runner
}

// New creates a docker adapter sharing the daemon's command runner.
func New(runner *cmdrun.Runner) *CLI {
	return &CLI{runner: runner}
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, cmdrun.Spec{
		Argv: append([]string{"docker"}, args...),
	})
}

// ListContainers returns all containers, including stopped ones.
func (c *CLI) ListContainers(ctx context.Context) []Container {
	output, err := c.run(ctx, "ps", "-a", "--format", "{{json .}}")
	if err != nil {
		return nil
	}

	var containers []Container
	for _, line := range jsonLines(output) {
		var raw rawContainer
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		containers = append(containers, Container{
			ID:        raw.ID,
			Name:      raw.Names,
			Image:     raw.Image,
			State:     raw.State,
			Status:    raw.Status,
			Ports:     raw.Ports,
			CreatedAt: raw.CreatedAt,
		})
	}
	return containers
}

// GetContainer fetches one container by id or name prefix; ok is false
// when no container matches.
func (c *CLI) GetContainer(ctx context.Context, id string) (Container, bool) {
	for _, ctr := range c.ListContainers(ctx) {
		if ctr.ID == id || ctr.Name == id || strings.HasPrefix(ctr.ID, id) {
			return ctr, true
		}
	}
	return Container{}, false
}

// RemoveContainer force-removes a container.
func (c *CLI) RemoveContainer(ctx context.Context, id string) error {
	_, err := c.run(ctx, "rm", "-f", id)
	return err
}

// StartContainer starts a stopped container.
func (c *CLI) StartContainer(ctx context.Context, id string) error {
	_, err := c.run(ctx, "start", id)
	return err
}

// StopContainer stops a running container.
func (c *CLI) StopContainer(ctx context.Context, id string) error {
	_, err := c.run(ctx, "stop", id)
	return err
}

// ContainerLogs fetches recent container log output.
func (c *CLI) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	args := []string{"logs", id}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	output, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// ListImages returns the local images.
func (c *CLI) ListImages(ctx context.Context) []Image {
	output, err := c.run(ctx, "images", "--format", "{{json .}}")
	if err != nil {
		return nil
	}

	var images []Image
	for _, line := range jsonLines(output) {
		var raw rawImage
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		images = append(images, Image{
			ID:         raw.ID,
			Repository: raw.Repository,
			Tag:        raw.Tag,
			Size:       raw.Size,
			CreatedAt:  raw.CreatedAt,
		})
	}
	return images
}

// RemoveImage removes a local image.
func (c *CLI) RemoveImage(ctx context.Context, id string) error {
	_, err := c.run(ctx, "rmi", id)
	return err
}

// ServerVersion returns the daemon's version string, or "" when the
// daemon is unreachable.
func (c *CLI) ServerVersion(ctx context.Context) string {
	output, err := c.run(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// jsonLines splits line-oriented JSON output, dropping blank lines and
// anything that does not look like an object.
func jsonLines(output []byte) [][]byte {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines
}
