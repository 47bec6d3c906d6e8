// Package workflowfile loads HCL workflow definition files into a graph
// store. A file declares optional workflow metadata, node blocks, and edge
// blocks; the loader goes through the store's public mutation API so the
// store's uniqueness and handle invariants hold for file input too.
package workflowfile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/hclutil"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Document is the workflow-level metadata of one loaded file.
type Document struct {
	// ID keys the workflow's runtime state and history. Defaults to the
	// file's base name when the file declares none.
	ID string
	// Name is the display title.
	Name string
}

type fileRoot struct {
	Workflow *workflowBlock `hcl:"workflow,block"`
	Nodes    []*nodeBlock   `hcl:"node,block"`
	Edges    []*edgeBlock   `hcl:"edge,block"`
	Remain   hcl.Body       `hcl:",remain"`
}

type workflowBlock struct {
	ID   string `hcl:"id,optional"`
	Name string `hcl:"name,optional"`
}

type nodeBlock struct {
	ID       string         `hcl:"id,label"`
	Type     string         `hcl:"type"`
	Label    string         `hcl:"label,optional"`
	Model    string         `hcl:"model,optional"`
	Params   hcl.Expression `hcl:"params,optional"`
	Position []float64      `hcl:"position,optional"`
	Size     []float64      `hcl:"size,optional"`
}

type edgeBlock struct {
	From   string `hcl:"from"`
	To     string `hcl:"to"`
	Handle string `hcl:"handle"`
}

var nodeTypes = map[string]workflow.NodeType{
	string(workflow.NodeMediaUpload): workflow.NodeMediaUpload,
	string(workflow.NodeTextInput):   workflow.NodeTextInput,
	string(workflow.NodeModel):       workflow.NodeModel,
	string(workflow.NodeTranscode):   workflow.NodeTranscode,
	string(workflow.NodeFileOutput):  workflow.NodeFileOutput,
}

// Load parses one workflow file and populates the graph through its mutation
// API. Nodes are added before edges so block order in the file is free. When
// a node names a model absent from the catalog the node keeps the model id
// with an empty schema; connected handles still resolve, so the graph runs
// once the manifest arrives.
func Load(ctx context.Context, path string, graph *graphstore.Store, models modelschema.Source) (*Document, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", path, diags)
	}

	doc := documentFor(path, root.Workflow)

	for _, block := range root.Nodes {
		n, err := translateNode(ctx, block, models)
		if err != nil {
			return nil, fmt.Errorf("in workflow file %s: %w", path, err)
		}
		if err := graph.AddNode(n); err != nil {
			return nil, fmt.Errorf("in workflow file %s: %w", path, err)
		}
	}
	for _, block := range root.Edges {
		if _, err := graph.Connect(block.From, block.To, block.Handle); err != nil {
			return nil, fmt.Errorf("in workflow file %s: edge '%s' -> '%s': %w", path, block.From, block.To, err)
		}
	}

	logger.Debug("Workflow file loaded.",
		"workflow", doc.ID, "nodes", len(root.Nodes), "edges", len(root.Edges))
	return doc, nil
}

func documentFor(path string, b *workflowBlock) *Document {
	doc := &Document{}
	if b != nil {
		doc.ID = b.ID
		doc.Name = b.Name
	}
	if doc.ID == "" {
		base := filepath.Base(path)
		doc.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}
	return doc
}

func translateNode(ctx context.Context, b *nodeBlock, models modelschema.Source) (*workflow.Node, error) {
	typ, ok := nodeTypes[b.Type]
	if !ok {
		return nil, fmt.Errorf("node '%s': unknown node type %q", b.ID, b.Type)
	}

	n := workflow.NewNode(typ)
	n.ID = b.ID
	n.Label = b.Label

	raw, err := hclutil.ExprToGo(b.Params)
	if err != nil {
		return nil, fmt.Errorf("node '%s': %w", b.ID, err)
	}
	if raw != nil {
		params, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node '%s': params must be an object", b.ID)
		}
		n.Params = params
	}

	if pos, err := pair(b.Position, "position"); err != nil {
		return nil, fmt.Errorf("node '%s': %w", b.ID, err)
	} else if pos != nil {
		n.Position = workflow.Position{X: pos[0], Y: pos[1]}
	}
	if sz, err := pair(b.Size, "size"); err != nil {
		return nil, fmt.Errorf("node '%s': %w", b.ID, err)
	} else if sz != nil {
		n.Size = workflow.Size{Width: sz[0], Height: sz[1]}
	}

	if b.Model != "" {
		n.ModelID = b.Model
		def, err := lookupModel(models, b.Model)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Model manifest not found for node; schema left empty.",
				"node", b.ID, "model", b.Model)
		} else {
			n.ParamDefs = def.Params
			n.InputDefs = def.Inputs
		}
	}
	return n, nil
}

func lookupModel(models modelschema.Source, id string) (*modelschema.Definition, error) {
	if models == nil {
		return nil, fmt.Errorf("model '%s': %w", id, modelschema.ErrModelNotFound)
	}
	return models.Definition(id)
}

func pair(vals []float64, attr string) ([]float64, error) {
	switch len(vals) {
	case 0:
		return nil, nil
	case 2:
		return vals, nil
	default:
		return nil, fmt.Errorf("%s wants two numbers, got %d", attr, len(vals))
	}
}
