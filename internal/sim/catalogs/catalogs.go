package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"voxelsync.ai/internal/sim/encoding"
	"voxelsync.ai/internal/sim/mapblock"
)

// DefinitionFile is the on-disk shape of the definitions YAML.
type DefinitionFile struct {
	Nodes []NodeDef `json:"nodes" yaml:"nodes" jsonschema:"minItems=1"`
	Items []ItemDef `json:"items,omitempty" yaml:"items"`
}

type NodeDef struct {
	Name        string         `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Description string         `json:"description,omitempty" yaml:"description"`
	DrawType    string         `json:"drawtype,omitempty" yaml:"drawtype" jsonschema:"enum=normal,enum=airlike,enum=liquid,enum=plantlike,enum=glasslike,enum=torchlike"`
	Walkable    bool           `json:"walkable,omitempty" yaml:"walkable"`
	Pointable   bool           `json:"pointable,omitempty" yaml:"pointable"`
	Diggable    bool           `json:"diggable,omitempty" yaml:"diggable"`
	LightSource int            `json:"light_source,omitempty" yaml:"light_source" jsonschema:"minimum=0,maximum=14"`
	Groups      map[string]int `json:"groups,omitempty" yaml:"groups"`
	Sounds      NodeSounds     `json:"sounds,omitempty" yaml:"sounds"`
}

type NodeSounds struct {
	Footstep string `json:"footstep,omitempty" yaml:"footstep"`
	Dig      string `json:"dig,omitempty" yaml:"dig"`
	Place    string `json:"place,omitempty" yaml:"place"`
}

type ItemDef struct {
	Name           string `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Type           string `json:"type" yaml:"type" jsonschema:"enum=node,enum=craft,enum=tool"`
	Description    string `json:"description,omitempty" yaml:"description"`
	InventoryImage string `json:"inventory_image,omitempty" yaml:"inventory_image"`
	StackMax       int    `json:"stack_max,omitempty" yaml:"stack_max" jsonschema:"minimum=1,maximum=65535"`
}

// Catalogs holds the validated definitions, their content ids and the
// compressed payloads sent during INIT2.
type Catalogs struct {
	Nodes NodeCatalog
	Items ItemCatalog

	Digest string

	nodeDefPayload []byte
	itemDefPayload []byte
}

type NodeCatalog struct {
	Defs  map[string]NodeDef
	Index map[string]uint16
	Names map[uint16]string
}

type ItemCatalog struct {
	Defs    map[string]ItemDef
	Palette []string
}

// builtin nodes always exist and keep their reserved content ids.
var builtinNodes = map[string]uint16{
	"unknown": mapblock.ContentUnknown,
	"air":     mapblock.ContentAir,
	"ignore":  mapblock.ContentIgnore,
}

// Load reads, validates and indexes a definitions file.
func Load(path string) (*Catalogs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalogs, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var f DefinitionFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("definitions: %w", err)
	}
	c, err := build(f)
	if err != nil {
		return nil, err
	}
	c.Digest = sha256Hex(raw)
	return c, nil
}

func build(f DefinitionFile) (*Catalogs, error) {
	c := &Catalogs{
		Nodes: NodeCatalog{
			Defs:  map[string]NodeDef{},
			Index: map[string]uint16{},
			Names: map[uint16]string{},
		},
		Items: ItemCatalog{Defs: map[string]ItemDef{}},
	}

	for name, id := range builtinNodes {
		c.Nodes.Defs[name] = NodeDef{Name: name, DrawType: "airlike"}
		c.Nodes.Index[name] = id
		c.Nodes.Names[id] = name
	}

	// Content ids follow file order, skipping the reserved range.
	next := uint16(0)
	for _, d := range f.Nodes {
		if _, dup := c.Nodes.Defs[d.Name]; dup {
			if _, builtin := builtinNodes[d.Name]; builtin {
				c.Nodes.Defs[d.Name] = d
				continue
			}
			return nil, fmt.Errorf("definitions: duplicate node %q", d.Name)
		}
		for next >= mapblock.ContentUnknown && next <= mapblock.ContentIgnore {
			next++
		}
		c.Nodes.Defs[d.Name] = d
		c.Nodes.Index[d.Name] = next
		c.Nodes.Names[next] = d.Name
		next++
	}

	for _, d := range f.Items {
		if _, dup := c.Items.Defs[d.Name]; dup {
			return nil, fmt.Errorf("definitions: duplicate item %q", d.Name)
		}
		if d.Type == "node" {
			if _, ok := c.Nodes.Defs[d.Name]; !ok {
				return nil, fmt.Errorf("definitions: item %q places unknown node", d.Name)
			}
		}
		if d.StackMax == 0 {
			d.StackMax = 99
		}
		c.Items.Defs[d.Name] = d
		c.Items.Palette = append(c.Items.Palette, d.Name)
	}
	sort.Strings(c.Items.Palette)

	var err error
	if c.nodeDefPayload, err = c.encodeNodeDefs(); err != nil {
		return nil, err
	}
	if c.itemDefPayload, err = c.encodeItemDefs(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalogs) ContentID(name string) (uint16, bool) {
	id, ok := c.Nodes.Index[name]
	return id, ok
}

func (c *Catalogs) NodeName(id uint16) string {
	if n, ok := c.Nodes.Names[id]; ok {
		return n
	}
	return "unknown"
}

// NodeDefPayload is the compressed node definition list sent as NODEDEF.
func (c *Catalogs) NodeDefPayload() []byte { return c.nodeDefPayload }

// ItemDefPayload is the compressed item definition list sent as ITEMDEF.
func (c *Catalogs) ItemDefPayload() []byte { return c.itemDefPayload }

type wireNode struct {
	ID uint16 `json:"id"`
	NodeDef
}

func (c *Catalogs) encodeNodeDefs() ([]byte, error) {
	ids := make([]int, 0, len(c.Nodes.Names))
	for id := range c.Nodes.Names {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	list := make([]wireNode, 0, len(ids))
	for _, id := range ids {
		name := c.Nodes.Names[uint16(id)]
		list = append(list, wireNode{ID: uint16(id), NodeDef: c.Nodes.Defs[name]})
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return encoding.Compress(b), nil
}

func (c *Catalogs) encodeItemDefs() ([]byte, error) {
	list := make([]ItemDef, 0, len(c.Items.Palette))
	for _, name := range c.Items.Palette {
		list = append(list, c.Items.Defs[name])
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return encoding.Compress(b), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
