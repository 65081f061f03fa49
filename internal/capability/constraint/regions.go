package constraint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRegion is returned when no configured block contains the IP.
var ErrUnknownRegion = errors.New("region unknown for ip")

// CIDRRegions resolves regions from a static table of CIDR blocks.
type CIDRRegions struct {
	blocks []regionBlock
}

type regionBlock struct {
	net    *net.IPNet
	region string
}

type regionFile struct {
	Regions map[string][]string `yaml:"regions"`
}

// LoadCIDRRegions reads a YAML file of the form
//
//	regions:
//	  eu-west: ["203.0.113.0/24"]
//	  us-east: ["198.51.100.0/24", "192.0.2.10/32"]
//
// An empty path returns nil so spatial constraints fail closed.
func LoadCIDRRegions(path string) (*CIDRRegions, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region map: %w", err)
	}
	return ParseCIDRRegions(b)
}

// ParseCIDRRegions parses region map YAML.
func ParseCIDRRegions(b []byte) (*CIDRRegions, error) {
	var f regionFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse region map: %w", err)
	}
	r := &CIDRRegions{}
	for region, cidrs := range f.Regions {
		for _, c := range cidrs {
			_, block, err := net.ParseCIDR(c)
			if err != nil {
				return nil, fmt.Errorf("region %s: %w", region, err)
			}
			r.blocks = append(r.blocks, regionBlock{net: block, region: region})
		}
	}
	return r, nil
}

// Region returns the region of the most specific block containing ip.
func (r *CIDRRegions) Region(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownRegion, ip)
	}
	best, bestOnes := "", -1
	for _, b := range r.blocks {
		if !b.net.Contains(parsed) {
			continue
		}
		if ones, _ := b.net.Mask.Size(); ones > bestOnes {
			best, bestOnes = b.region, ones
		}
	}
	if bestOnes < 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownRegion, ip)
	}
	return best, nil
}
