// Package nvme wraps the nvme-cli commands nvmepts needs and parses their
// JSON and human-readable output.
package nvme

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNamespaceNotFound is returned when nvme list has no matching namespace.
var ErrNamespaceNotFound = errors.New("namespace not found")

// ErrUnexpectedOutput is returned when human-readable output cannot be parsed.
var ErrUnexpectedOutput = errors.New("unexpected nvme output")

// FeatureVolatileWriteCache is the Volatile Write Cache feature identifier.
const FeatureVolatileWriteCache = 0x06

// FeatureIDs are the features recorded as test conditions.
var FeatureIDs = []int{0x01, 0x02, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}

// Client runs nvme-cli through an executor.
type Client struct {
	exec shell.Executor
	path string
}

// NewClient returns a client that runs the nvme binary at path through exec.
func NewClient(exec shell.Executor, path string) *Client {
	if path == "" {
		path = "nvme"
	}
	return &Client{exec: exec, path: path}
}

func (c *Client) run(ctx context.Context, args ...string) (*shell.Result, error) {
	res, err := c.exec.Run(ctx, shell.Command{Name: c.path, Args: args, Sudo: true})
	if err != nil {
		return res, fmt.Errorf("nvme %s: %w", args[0], err)
	}
	return res, nil
}

// List runs `nvme list --output-format=json --verbose`.
func (c *Client) List(ctx context.Context) (*shell.Result, error) {
	return c.run(ctx, "list", "--output-format=json", "--verbose")
}

// IDCtrl runs `nvme id-ctrl --output-format=json <dev>`.
func (c *Client) IDCtrl(ctx context.Context, dev string) (*shell.Result, error) {
	return c.run(ctx, "id-ctrl", "--output-format=json", dev)
}

// SmartLog runs `nvme smart-log --output-format=json <dev>`.
func (c *Client) SmartLog(ctx context.Context, dev string) (*shell.Result, error) {
	return c.run(ctx, "smart-log", "--output-format=json", dev)
}

// GetFeature runs `nvme get-feature --human-readable --feature-id=0xNN <dev>`.
func (c *Client) GetFeature(ctx context.Context, dev string, fid int) (*shell.Result, error) {
	return c.run(ctx, "get-feature", "--human-readable", fmt.Sprintf("--feature-id=0x%02x", fid), dev)
}

// SetFeature runs `nvme set-feature --feature-id=0xNN --value=0xV <dev>`.
func (c *Client) SetFeature(ctx context.Context, dev string, fid int, value uint32) (*shell.Result, error) {
	return c.run(ctx, "set-feature", fmt.Sprintf("--feature-id=0x%02x", fid), fmt.Sprintf("--value=0x%x", value), dev)
}

// Format runs `nvme format -f -l0 <dev>`, erasing the namespace.
func (c *Client) Format(ctx context.Context, dev string) (*shell.Result, error) {
	return c.run(ctx, "format", "-f", "-l0", dev)
}

// Features reads and parses every feature in FeatureIDs.
func (c *Client) Features(ctx context.Context, dev string) ([]Feature, error) {
	out := make([]Feature, 0, len(FeatureIDs))
	for _, fid := range FeatureIDs {
		res, err := c.GetFeature(ctx, dev, fid)
		if err != nil {
			return nil, err
		}
		f, err := ParseFeature(string(res.Stdout))
		if err != nil {
			return nil, fmt.Errorf("feature 0x%02x: %w", fid, err)
		}
		out = append(out, *f)
	}
	return out, nil
}

// Namespace runs nvme list and returns the namespace behind dev.
func (c *Client) Namespace(ctx context.Context, dev string) (*Namespace, *shell.Result, error) {
	res, err := c.List(ctx)
	if err != nil {
		return nil, res, err
	}
	ns, err := FindNamespace(res.Stdout, dev)
	return ns, res, err
}

// Namespace is one entry of `nvme list --verbose`.
type Namespace struct {
	NameSpace    string `json:"NameSpace"`
	Generic      string `json:"Generic,omitempty"`
	NSID         int    `json:"NSID"`
	UsedBytes    int64  `json:"UsedBytes"`
	MaximumLBA   int64  `json:"MaximumLBA"`
	PhysicalSize int64  `json:"PhysicalSize"`
	SectorSize   int    `json:"SectorSize"`
}

// Controller is one controller of `nvme list --verbose`.
type Controller struct {
	Controller   string      `json:"Controller"`
	Transport    string      `json:"Transport,omitempty"`
	Address      string      `json:"Address,omitempty"`
	SerialNumber string      `json:"SerialNumber,omitempty"`
	ModelNumber  string      `json:"ModelNumber,omitempty"`
	Firmware     string      `json:"Firmware,omitempty"`
	Namespaces   []Namespace `json:"Namespaces"`
}

// Subsystem groups controllers in nvme-cli 2.x output.
type Subsystem struct {
	Subsystem   string       `json:"Subsystem"`
	Controllers []Controller `json:"Controllers"`
	Namespaces  []Namespace  `json:"Namespaces"`
}

// Device is a top-level entry of `nvme list --verbose`. nvme-cli 1.x nests
// controllers directly; 2.x nests them in subsystems and may list shared
// namespaces at subsystem level.
type Device struct {
	Controllers []Controller `json:"Controllers"`
	Subsystems  []Subsystem  `json:"Subsystems"`
}

// List is the document printed by `nvme list --output-format=json --verbose`.
type List struct {
	Devices []Device `json:"Devices"`
}

// FindNamespace returns the namespace named after the basename of dev.
func FindNamespace(data []byte, dev string) (*Namespace, error) {
	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decoding nvme list: %w", err)
	}

	name := filepath.Base(strings.TrimSpace(dev))
	match := func(nss []Namespace) *Namespace {
		for i := range nss {
			if nss[i].NameSpace == name {
				return &nss[i]
			}
		}
		return nil
	}

	for _, d := range l.Devices {
		for _, c := range d.Controllers {
			if ns := match(c.Namespaces); ns != nil {
				return ns, nil
			}
		}
		for _, s := range d.Subsystems {
			if ns := match(s.Namespaces); ns != nil {
				return ns, nil
			}
			for _, c := range s.Controllers {
				if ns := match(c.Namespaces); ns != nil {
					return ns, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
}

// Identify holds the id-ctrl fields recorded with a run.
type Identify struct {
	Model    string
	Serial   string
	Firmware string

	// VolatileWriteCache reports whether a volatile write cache is present.
	VolatileWriteCache bool
}

// ParseIDCtrl decodes `nvme id-ctrl --output-format=json`.
func ParseIDCtrl(data []byte) (*Identify, error) {
	var raw struct {
		SN  string `json:"sn"`
		MN  string `json:"mn"`
		FR  string `json:"fr"`
		VWC int    `json:"vwc"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding id-ctrl: %w", err)
	}
	return &Identify{
		Model:              strings.TrimSpace(raw.MN),
		Serial:             strings.TrimSpace(raw.SN),
		Firmware:           strings.TrimSpace(raw.FR),
		VolatileWriteCache: raw.VWC&0x1 != 0,
	}, nil
}
