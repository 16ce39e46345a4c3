// Package viz renders push channel history as an SVG graph for debugging.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/tasklive/pkg/stream"
)

// Label describes a single transition relative to the first one.
func Label(t stream.Transition, start time.Time) string {
	label := fmt.Sprintf("%s\n+%s", t.To, t.At.Sub(start).Round(time.Millisecond))
	if t.Delay > 0 {
		label += fmt.Sprintf("\nretry in %s", t.Delay.Round(time.Millisecond))
	}
	if t.Err != nil {
		label += "\n" + t.Err.Error()
	}
	return label
}

func RenderTransitionsToSvg(transitions []stream.Transition, outputPath string) error {
	if len(transitions) == 0 {
		return fmt.Errorf("no transitions to render")
	}
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	start := transitions[0].At
	var previous *cgraph.Node
	for i, t := range transitions {
		n, err := graph.CreateNode(strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(Label(t, start))
		if t.To == stream.AwaitingRetry {
			n.SetShape(cgraph.BoxShape)
		}
		if previous != nil {
			if _, err := graph.CreateEdge(strconv.Itoa(i), previous, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
		previous = n
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderToTemp(transitions []stream.Transition) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("tasklive-%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderTransitionsToSvg(transitions, tf); err != nil {
		return "", err
	}
	return tf, nil
}
