package modelschema

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/fsutil"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/hclutil"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// fileRoot decodes the top-level blocks of a manifest file.
type fileRoot struct {
	Models []*modelBlock `hcl:"model,block"`
	Remain hcl.Body      `hcl:",remain"`
}

type modelBlock struct {
	ID          string        `hcl:"id,label"`
	Endpoint    string        `hcl:"endpoint"`
	Description string        `hcl:"description,optional"`
	CostPerRun  float64       `hcl:"cost_per_run,optional"`
	Params      []*paramBlock `hcl:"param,block"`
	Inputs      []*inputBlock `hcl:"input,block"`
}

type paramBlock struct {
	Key         string         `hcl:"key,label"`
	Type        string         `hcl:"type"`
	Label       string         `hcl:"label,optional"`
	Required    bool           `hcl:"required,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Connectable *bool          `hcl:"connectable,optional"`
	Array       bool           `hcl:"array,optional"`
	Options     []string       `hcl:"options,optional"`
	Min         *float64       `hcl:"min,optional"`
	Max         *float64       `hcl:"max,optional"`
}

type inputBlock struct {
	Key      string `hcl:"key,label"`
	Type     string `hcl:"type"`
	Label    string `hcl:"label,optional"`
	Required bool   `hcl:"required,optional"`
}

var knownTypes = map[string]workflow.DataType{
	string(workflow.TypeText):    workflow.TypeText,
	string(workflow.TypeNumber):  workflow.TypeNumber,
	string(workflow.TypeBoolean): workflow.TypeBoolean,
	string(workflow.TypeSelect):  workflow.TypeSelect,
	string(workflow.TypeFile):    workflow.TypeFile,
	string(workflow.TypeImage):   workflow.TypeImage,
	string(workflow.TypeVideo):   workflow.TypeVideo,
	string(workflow.TypeAudio):   workflow.TypeAudio,
	string(workflow.TypeJSON):    workflow.TypeJSON,
	string(workflow.TypeURL):     workflow.TypeURL,
	string(workflow.TypeAny):     workflow.TypeAny,
}

// Load parses every .hcl manifest under the given paths into a catalog.
// Paths may be files or directories; missing paths are skipped.
func Load(ctx context.Context, paths ...string) (*Catalog, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findManifestFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered model manifest files.", "count", len(files))

	catalog := NewCatalog()
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", file, diags)
		}

		for _, block := range root.Models {
			def, err := translateModel(block)
			if err != nil {
				return nil, fmt.Errorf("in manifest %s: %w", file, err)
			}
			if err := catalog.Add(def); err != nil {
				return nil, fmt.Errorf("in manifest %s: %w", file, err)
			}
		}
	}

	logger.Debug("Model manifests loaded.", "models", catalog.Len())
	return catalog, nil
}

func translateModel(b *modelBlock) (*Definition, error) {
	def := &Definition{
		ID:          b.ID,
		Endpoint:    b.Endpoint,
		Description: b.Description,
		CostPerRun:  b.CostPerRun,
	}
	for _, p := range b.Params {
		pd, err := translateParam(b.ID, p)
		if err != nil {
			return nil, err
		}
		def.Params = append(def.Params, pd)
	}
	for _, in := range b.Inputs {
		typ, ok := knownTypes[in.Type]
		if !ok {
			return nil, fmt.Errorf("model '%s', input '%s': unknown data type %q", b.ID, in.Key, in.Type)
		}
		def.Inputs = append(def.Inputs, workflow.PortDefinition{
			Key:      in.Key,
			Label:    in.Label,
			Type:     typ,
			Required: in.Required,
		})
	}
	return def, nil
}

func translateParam(modelID string, p *paramBlock) (workflow.ParamDefinition, error) {
	typ, ok := knownTypes[p.Type]
	if !ok {
		return workflow.ParamDefinition{}, fmt.Errorf("model '%s', param '%s': unknown data type %q", modelID, p.Key, p.Type)
	}
	def, err := hclutil.ExprToGo(p.Default)
	if err != nil {
		return workflow.ParamDefinition{}, fmt.Errorf("model '%s', param '%s': %w", modelID, p.Key, err)
	}
	connectable := true
	if p.Connectable != nil {
		connectable = *p.Connectable
	}
	return workflow.ParamDefinition{
		Key:         p.Key,
		Label:       p.Label,
		Type:        typ,
		Required:    p.Required,
		Default:     def,
		Connectable: connectable,
		Array:       p.Array,
		Options:     p.Options,
		Min:         p.Min,
		Max:         p.Max,
	}, nil
}

// findManifestFiles expands the given files and directories into every .hcl
// file beneath them.
func findManifestFiles(paths []string) ([]string, error) {
	return fsutil.CollectFiles(".hcl", paths...)
}
